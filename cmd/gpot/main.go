package main

import (
	"flag"
	"log"
	"net/http"
	"path/filepath"

	"github.com/mastercactapus/gpot/bus"
	"github.com/mastercactapus/gpot/bus/egg273a"
	"github.com/mastercactapus/gpot/bus/sim"
	"github.com/mastercactapus/gpot/method"
	"github.com/mastercactapus/gpot/run"
	"github.com/mastercactapus/gpot/session"
)

func main() {
	log.SetFlags(log.Lshortfile)

	addr := flag.String("addr", ":9092", "Address to bind the gPot server to.")
	useSim := flag.Bool("sim", false, "Use a simulated instrument instead of real hardware.")
	port := flag.String("port", "", "Serial port path; when set, only this port is offered.")
	baud := flag.Int("baud", 9600, "Serial baud rate.")
	dataDir := flag.String("data", "./data", "Directory for per-run CSV output.")
	methodsDir := flag.String("methods", "./methods", "Methods directory (builtin/ and custom/ beneath it).")
	cfgPath := flag.String("config", "", "Path to a JSON config file (bounds, intervals, timeout).")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal("read config: ", err)
	}

	var drv bus.Driver
	if *useSim {
		drv = sim.New()
	} else {
		d := &egg273a.Driver{
			Baud:    *baud,
			Timeout: cfg.CommandTimeout.D(),
		}
		if *port != "" {
			d.Patterns = []string{*port}
		}
		drv = d
	}

	sess := session.New(drv, cfg.PollInterval.D())
	defer sess.Stop()
	eng := run.NewEngine(sess, cfg.SamplingInterval.D())
	store := &method.Store{
		BuiltinDir: filepath.Join(*methodsDir, "builtin"),
		CustomDir:  filepath.Join(*methodsDir, "custom"),
	}

	api := newAPI(sess, eng, store, cfg.Bounds, *dataDir)

	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
