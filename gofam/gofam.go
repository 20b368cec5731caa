// Gofam estimates gene family birth and death rates on a species tree.
// It also tests for rate variation between branches or families and
// simulates family sizes.
//
// The basic usage of gofam looks like this:
//
//	gofam lambda tree.nwk families.txt
//
// , this will fit a single birth rate (death rate equal to birth rate)
// to all the families. Branches tagged with #1, #2, ... in the tree get
// separate rates. Rates varying between families are modelled with a
// mixture:
//
//	gofam -k 3 -weights em lambda tree.nwk families.txt
//
// Global and clustered (or mixture) rates are compared with:
//
//	gofam lrt tree.nwk families.txt
//
// Settings can be stored in a TOML file passed with -config. To see all
// the options run:
//
//	gofam -h
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mrrlab/gofam/checkpoint"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gofam")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules which log levels are set from the command line.
var modules = []string{"gofam", "estimate", "optimize", "cafe", "birthdeath", "family", "checkpoint"}

// command-line options
var (
	// application
	app = kingpin.New("gofam", "gene family birth and death rate estimation").Version(version)

	configF = app.Flag("config", "read settings from a TOML file, explicit flags take precedence").ExistingFile()

	// model
	rangeS   = app.Flag("range", "family size range minRoot,maxRoot,min,max (computed from the data by default)").String()
	priorS   = app.Flag("prior", "root size prior (uniform, poisson, empirical)").Enum("uniform", "poisson", "empirical")
	lambda0  = app.Flag("lambda", "starting birth rate").Float64()
	mu0      = app.Flag("mu", "starting death rate, negative to tie it to the birth rate").Default("NaN").Float64()
	estMu    = app.Flag("estimate-mu", "estimate death rates separately from birth rates").Bool()
	ncomp    = app.Flag("k", "number of mixture components").Int()
	weightsS = app.Flag("weights", "mixture weights estimation (fixed, simplex, em)").Enum("fixed", "simplex", "em")
	errRate  = app.Flag("error", "probability of a count being off by one").Float64()
	alpha    = app.Flag("alpha", "significance level of the tests").Float64()

	// optimizer parameters
	method = app.Flag("method", "optimization method to use "+
		"(simplex: downhill simplex, "+
		"lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"bfgs: Broyden–Fletcher–Goldfarb–Shanno from gonum, "+
		"none: just compute likelihood, no optimization"+
		")").Enum("simplex", "lbfgsb", "bfgs", "none")
	iterations = app.Flag("iter", "number of iterations").Int()
	restarts   = app.Flag("restarts", "number of random starting points").Default("-1").Int()
	report     = app.Flag("report", "report every N iterations").Default("10").Int()

	// technical
	nThreads    = app.Flag("nt", "number of threads to use").Int()
	seed        = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile  = app.Flag("cpuprofile", "write cpu profile to file").String()
	checkpointF = app.Flag("checkpoint", "checkpoint database file").String()
	ckptSeconds = app.Flag("checkpoint-seconds", "minimum time between checkpoints").Default("60").Float64()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	outF     = app.Flag("out", "write optimization trajectory to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// commands
	lambdaCmd  = app.Command("lambda", "estimate birth and death rates")
	lambdaTree = lambdaCmd.Arg("tree", "species tree in Newick format").String()
	lambdaFam  = lambdaCmd.Arg("families", "family sizes table").String()
	each       = lambdaCmd.Flag("each", "also fit rates to every family separately").Bool()
	pvalues    = lambdaCmd.Flag("pvalues", "number of simulations for family p-values").Int()
	branches   = lambdaCmd.Flag("branches", "test separate rates on every branch of the significant families").Bool()

	lrtCmd  = app.Command("lrt", "test global rates against clustered or mixture rates")
	lrtTree = lrtCmd.Arg("tree", "species tree in Newick format").String()
	lrtFam  = lrtCmd.Arg("families", "family sizes table").String()

	lhtestCmd = app.Command("lhtest", "compute the likelihood over a grid of birth rates")
	lhTree    = lhtestCmd.Arg("tree", "species tree in Newick format").String()
	lhFam     = lhtestCmd.Arg("families", "family sizes table").String()
	scanMin   = lhtestCmd.Flag("min", "smallest birth rate").Default("0.0001").Float64()
	scanMax   = lhtestCmd.Flag("max", "largest birth rate").Default("0.1").Float64()
	scanSteps = lhtestCmd.Flag("steps", "number of grid points").Default("50").Int()
	plotF     = lhtestCmd.Flag("plot", "save the likelihood curve to a png file").String()

	simCmd   = app.Command("simulate", "simulate family sizes")
	simTree  = simCmd.Arg("tree", "species tree in Newick format").String()
	simN     = simCmd.Flag("n", "number of families").Default("100").Int()
	simMean  = simCmd.Flag("root-mean", "mean of the Poisson root size distribution").Default("5").Float64()
	simFamsF = simCmd.Flag("families-out", "write families to a file instead of stdout").String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	startTime := time.Now()

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range modules {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	conf := defaultConfig()
	if *configF != "" {
		if err := readConfig(*configF, &conf); err != nil {
			log.Fatal("Error reading config:", err)
		}
	}
	if err := conf.override(command); err != nil {
		log.Fatal(err)
	}

	if conf.Seed == -1 {
		conf.Seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", conf.Seed)

	runtime.GOMAXPROCS(*nThreads)
	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	r := &runner{conf: conf}
	if *outF != "" {
		f, err := os.Create(*outF)
		if err != nil {
			log.Fatal("Error creating trajectory file:", err)
		}
		defer f.Close()
		r.trace = f
	}
	if conf.Checkpoint != "" {
		var db *bolt.DB
		db, err = checkpoint.Open(conf.Checkpoint)
		if err != nil {
			log.Fatal("Error opening checkpoint database:", err)
		}
		defer db.Close()
		r.db = db
	}

	summary := &RunSummary{
		RunID:   uuid.New().String(),
		Command: command,
	}
	log.Infof("Run %s", summary.RunID)

	switch command {
	case lambdaCmd.FullCommand():
		err = r.lambda(summary, *each, *branches)
	case lrtCmd.FullCommand():
		err = r.lrt(summary)
	case lhtestCmd.FullCommand():
		err = r.lhtest(summary, *scanMin, *scanMax, *scanSteps, *plotF)
	case simCmd.FullCommand():
		err = r.simulate(summary, *simN, *simMean, *simFamsF)
	}
	if err != nil {
		log.Fatal(err)
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = conf.Seed
	summary.NThreads = effectiveNThreads
	summary.Time = deltaT.Seconds()

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
