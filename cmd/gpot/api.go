package main

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mastercactapus/gpot/method"
	"github.com/mastercactapus/gpot/run"
	"github.com/mastercactapus/gpot/session"
	"github.com/mastercactapus/gpot/sink"
)

type api struct {
	http.Handler

	sess   *session.Session
	eng    *run.Engine
	store  *method.Store
	bounds method.BoundsSet

	dataDir string

	sse  *sse.Server
	live *sink.Feed

	runMx     sync.Mutex
	lastRunID string

	wsMx      sync.Mutex
	wsClients map[*websocket.Conn]bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func newAPI(sess *session.Session, eng *run.Engine, store *method.Store, bounds method.BoundsSet, dataDir string) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		sess:    sess,
		eng:     eng,
		store:   store,
		bounds:  bounds,
		dataDir: dataDir,
		live:    sink.NewFeed(1024),
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(ioutil.Discard, "", 0),
		}),
		wsClients: make(map[*websocket.Conn]bool),
	}

	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/devices", a.devices).Methods("GET")
	r.HandleFunc("/api/connect", a.connect).Methods("POST")
	r.HandleFunc("/api/disconnect", a.disconnect).Methods("POST")

	r.HandleFunc("/api/methods", a.listMethods).Methods("GET")
	r.HandleFunc("/api/methods/{name}", a.getMethod).Methods("GET")
	r.HandleFunc("/api/methods/{name}", a.saveMethod).Methods("PUT")
	r.HandleFunc("/api/methods/{name}", a.deleteMethod).Methods("DELETE")

	r.HandleFunc("/api/run", a.startRun).Methods("POST")
	r.HandleFunc("/api/run/{id}", a.runStatus).Methods("GET")
	r.HandleFunc("/api/run/{id}/abort", a.abortRun).Methods("POST")

	r.PathPrefix("/events/").Handler(a.sse)
	r.HandleFunc("/ws", a.ws)
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.FileServer(http.Dir(dataDir))))

	go a.stateLoop()
	go a.diagLoop()
	go a.liveLoop()

	return a
}

type statusPayload struct {
	State    string      `json:"state"`
	Color    string      `json:"color"`
	Devices  []string    `json:"devices"`
	Identity string      `json:"identity,omitempty"`
	Run      *run.Status `json:"run,omitempty"`
}

func (a *api) statusPayload() statusPayload {
	p := statusPayload{
		State:   a.sess.State().String(),
		Color:   a.sess.State().Color(),
		Devices: a.sess.Devices(),
	}
	if id, ok := a.sess.Identity(); ok {
		p.Identity = id.String()
	}
	a.runMx.Lock()
	lastID := a.lastRunID
	a.runMx.Unlock()
	if lastID != "" {
		if st, ok := a.eng.Status(lastID); ok {
			p.Run = &st
		}
	}
	return p
}

// stateLoop forwards session state changes to the SSE state channel.
func (a *api) stateLoop() {
	for range a.sess.StateCh() {
		a.sendEvent("/events/state", a.statusPayload())
	}
}

// diagLoop forwards engine diagnostics to the SSE diag channel.
func (a *api) diagLoop() {
	for ev := range a.eng.Events() {
		a.sendEvent("/events/diag", ev)
	}
}

// liveLoop fans the live run feed out to SSE and websocket clients.
func (a *api) liveLoop() {
	for u := range a.live.C() {
		if u.Status != nil {
			a.sendEvent("/events/run", u.Status)
		}
		data, err := json.Marshal(u)
		if err != nil {
			log.Printf("ERROR: marshal json: %+v", err)
			continue
		}
		a.wsMx.Lock()
		for c := range a.wsClients {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				delete(a.wsClients, c)
			}
		}
		a.wsMx.Unlock()
	}
}

func (a *api) sendEvent(channel string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ERROR: marshal json: %+v", err)
		return
	}
	a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
}

func (a *api) ws(w http.ResponseWriter, req *http.Request) {
	c, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("ERROR: ws upgrade:", err)
		return
	}
	a.wsMx.Lock()
	a.wsClients[c] = true
	a.wsMx.Unlock()
	// Drain (and discard) client messages so pings are handled and
	// closed connections are noticed.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				a.wsMx.Lock()
				delete(a.wsClients, c)
				a.wsMx.Unlock()
				c.Close()
				return
			}
		}
	}()
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, a.statusPayload())
}

func (a *api) devices(w http.ResponseWriter, req *http.Request) {
	addrs := a.sess.Devices()
	if req.FormValue("refresh") == "1" {
		addrs = a.sess.Refresh()
	}
	respondJSON(w, addrs)
}

func (a *api) connect(w http.ResponseWriter, req *http.Request) {
	addr := req.FormValue("address")
	if addr == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}
	err := a.sess.Connect(addr)
	if err != nil {
		log.Printf("ERROR: connect '%s': %+v", addr, err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	respondJSON(w, a.statusPayload())
}

func (a *api) disconnect(w http.ResponseWriter, req *http.Request) {
	err := a.sess.Disconnect(req.FormValue("confirm") == "1")
	if err != nil {
		a.sendEvent("/events/diag", run.Event{
			Time:     time.Now(),
			Severity: "warn",
			Message:  "disconnect rejected: " + err.Error(),
		})
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	respondJSON(w, a.statusPayload())
}

func (a *api) listMethods(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, a.store.Load())
}

func (a *api) getMethod(w http.ResponseWriter, req *http.Request) {
	m, ok := a.store.Get(mux.Vars(req)["name"])
	if !ok {
		http.Error(w, "no such method", http.StatusNotFound)
		return
	}
	respondJSON(w, m)
}

func (a *api) saveMethod(w http.ResponseWriter, req *http.Request) {
	data, err := ioutil.ReadAll(req.Body)
	if err != nil {
		return
	}
	m, err := method.Parse(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m.Name = mux.Vars(req)["name"]
	err = a.store.SaveCustom(m)
	if err != nil {
		log.Printf("ERROR: save method '%s': %+v", m.Name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteMethod(w http.ResponseWriter, req *http.Request) {
	err := a.store.DeleteCustom(mux.Vars(req)["name"])
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

type runRequest struct {
	Method     string `json:"method"`
	User       string `json:"user"`
	Project    string `json:"project"`
	Experiment string `json:"experiment"`

	// Inline supplies the method body directly instead of naming a
	// stored one.
	Inline *method.Method `json:"inline,omitempty"`
}

func (a *api) startRun(w http.ResponseWriter, req *http.Request) {
	var r runRequest
	err := json.NewDecoder(req.Body).Decode(&r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m := r.Inline
	if m == nil {
		var ok bool
		m, ok = a.store.Get(r.Method)
		if !ok {
			http.Error(w, "no such method", http.StatusNotFound)
			return
		}
	}
	m.User = r.User
	m.Project = r.Project

	cap, ok := a.sess.Capability()
	if !ok {
		http.Error(w, session.ErrNotConnected.Error(), http.StatusConflict)
		return
	}

	// Validation happens here, before any device interaction; an
	// invalid method never reaches the engine.
	if vs := method.Validate(m, cap, a.bounds); len(vs) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{"violations": vs})
		return
	}

	csvSink, err := sink.NewCSV(a.dataDir, r.User, r.Project, r.Experiment)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := a.eng.Start(m, []run.Sink{csvSink, a.live})
	if err != nil {
		csvSink.Status(run.Status{Done: true})
		log.Printf("ERROR: start run: %+v", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	a.runMx.Lock()
	a.lastRunID = runID
	a.runMx.Unlock()

	respondJSON(w, map[string]string{"id": runID, "file": csvSink.Path()})
}

func (a *api) runStatus(w http.ResponseWriter, req *http.Request) {
	st, ok := a.eng.Status(mux.Vars(req)["id"])
	if !ok {
		http.Error(w, "no such run", http.StatusNotFound)
		return
	}
	respondJSON(w, st)
}

func (a *api) abortRun(w http.ResponseWriter, req *http.Request) {
	err := a.eng.Abort(mux.Vars(req)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
}
