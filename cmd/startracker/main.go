// Command startracker wires the camera, solver, sink, filter, state
// machine, execution engine, and bus surface together and runs the
// control loop until interrupted.
package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"strings"
	"time"

	"github.com/maruel/interrupt"

	"github.com/oresat/oresat-star-tracker-software/busif"
	"github.com/oresat/oresat-star-tracker-software/camera"
	"github.com/oresat/oresat-star-tracker-software/engine"
	"github.com/oresat/oresat-star-tracker-software/fsm"
	"github.com/oresat/oresat-star-tracker-software/internal/powergov"
	"github.com/oresat/oresat-star-tracker-software/sink"
	"github.com/oresat/oresat-star-tracker-software/solver"
)

func mainImpl() error {
	mockHW := flag.String("mock-hw", "", "mock hardware: \"camera\" or \"all\"")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	cacheDir := flag.String("cache-dir", "/tmp", "directory archival captures are written to before fread cache registration")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", strings.Join(flag.Args(), " "))
	}

	logger := log.New(os.Stderr, "startracker: ", log.LstdFlags)
	if *verbose {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	mockCamera := *mockHW == "camera" || *mockHW == "all"
	mockAll := *mockHW == "all"

	interrupt.HandleCtrlC()

	cfg := camera.DefaultConfig()
	cam := camera.New(mockCamera, cfg, logger, nil)
	defer cam.Close()

	solverCfg := solver.DefaultConfig()
	median := image.NewGray(image.Rect(0, 0, solverCfg.ImgX, solverCfg.ImgY))
	catalogue := solver.NewCatalogue(builtinCatalogueStars())
	facade, err := solver.Init(solverCfg, median, catalogue, logger)
	if err != nil {
		return fmt.Errorf("solver init: %w", err)
	}

	fileCache := &consoleFreadCache{logger: logger}
	imgSink := sink.New(*cacheDir, fileCache)

	var gov powergov.Governor
	if mockAll {
		gov = &powergov.Noop{}
	} else {
		gov = powergov.NewSysfs(logger)
	}
	machine := fsm.New(gov)

	eng := engine.New(engine.DefaultConfig(), machine, cam, facade, imgSink, nil, logger, time.Now())
	node := busif.New(logger, machine, cam, eng, imgSink, nil)
	eng.SetNotifier(node) // node forwards SendTPDO to its host sender; none is configured here, so sends are dropped

	eng.Run()
	eng.Shutdown()
	return nil
}

// consoleFreadCache stands in for the host fieldbus node's fread cache
// when run outside that runtime; it logs registrations instead of
// forwarding them to a real cache.
type consoleFreadCache struct {
	logger *log.Logger
}

func (c *consoleFreadCache) Add(path string, consume bool) error {
	c.logger.Printf("fread cache: add %s (consume=%v)", path, consume)
	return nil
}

// builtinCatalogueStars is a minimal placeholder reference catalogue used
// when no external star database is configured. A production deployment
// replaces this with a loaded Hipparcos-derived catalogue.
func builtinCatalogueStars() []solver.Star {
	return []solver.Star{
		solver.NewStar(1, 0, 0, 1.0),
		solver.NewStar(2, 1, 0, 1.2),
		solver.NewStar(3, 0, 1, 1.1),
	}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "startracker: %s\n", err)
		os.Exit(1)
	}
}
