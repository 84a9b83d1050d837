package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/notargets/elemgraph/comm"
	"github.com/notargets/elemgraph/config"
	"github.com/notargets/elemgraph/ctxlog"
	"github.com/notargets/elemgraph/elemgraph"
	"github.com/notargets/elemgraph/mesh"
	"github.com/notargets/elemgraph/meshio"
	"github.com/notargets/elemgraph/partitions"
)

const helpMessage = `

builds the distributed element graph of a mesh on in-process ranks and
checks it against the partition's cut faces

Usage: elemgraph [options]

      -mesh        (string)  Mesh file readable by the gocfd readers
      -box         (string)  Generate an nx,ny,nz hex block instead of reading a mesh
      -ranks       (int)     Number of ranks (default 2)
      -strategy    (string)  block, roundrobin, graph, or file (default graph)
      -config      (string)  Options file (.toml, .yaml or .hcl)
      -dump        (flag)    Print every rank's graph
  -h, -help        (flag)    Show help message

`

var (
	showHelp   = flag.Bool("help", false, "Show help message")
	meshFile   = flag.String("mesh", "", "Mesh file")
	boxDims    = flag.String("box", "", "Hex block dimensions nx,ny,nz")
	numRanks   = flag.Int("ranks", 2, "Number of ranks")
	strategy   = flag.String("strategy", "graph", "Partition strategy")
	configFile = flag.String("config", "", "Options file")
	dumpGraph  = flag.Bool("dump", false, "Print every rank's graph")
)

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if *showHelp || (*meshFile == "") == (*boxDims == "") {
		flag.Usage()
		os.Exit(0)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "elemgraph: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := config.Default()
	if *configFile != "" {
		var err error
		if opts, err = config.Load(*configFile); err != nil {
			return err
		}
	}
	logger, err := ctxlog.New(opts.Log)
	if err != nil {
		return err
	}
	logger = logger.With("run", uuid.New().String())
	slog.SetDefault(logger)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	global, fileParts, err := loadMesh()
	if err != nil {
		return err
	}
	eToP, cut, err := partition(global, fileParts)
	if err != nil {
		return err
	}
	d, err := mesh.Distribute(global, eToP, *numRanks)
	if err != nil {
		return err
	}

	w, err := comm.NewWorld(*numRanks, comm.WorldOptions{CompressThreshold: opts.CompressThreshold})
	if err != nil {
		return err
	}
	graphs := make([]*elemgraph.Graph, *numRanks)
	traffic := make([]comm.Stats, *numRanks)
	start := time.Now()
	err = w.Run(ctx, func(ctx context.Context, c comm.Communicator) error {
		g, err := elemgraph.New(ctx, d.Bulks[c.Rank()], c, opts)
		if err != nil {
			return err
		}
		graphs[c.Rank()] = g
		if err := g.CheckSymmetry(); err != nil {
			return err
		}
		if err := g.VerifyRemoteMirror(ctx); err != nil {
			return err
		}
		traffic[c.Rank()], _ = comm.RankStats(c)
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("graph built", "ranks", *numRanks, "elements", global.NumElements(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	var mismatch bool
	fmt.Printf("%-5s %9s %9s %9s %9s %10s %10s\n", "rank", "elements", "edges", "remote", "cut", "memory", "traffic")
	for r, g := range graphs {
		st := g.Stats()
		fmt.Printf("%-5d %9d %9d %9d %9d %10s %10s\n", r, st.Vertices, st.Edges, st.RemoteEdges, cut[r],
			humanize.Bytes(uint64(st.Bytes)), humanize.Bytes(traffic[r].BytesSent))
		if st.RemoteEdges+st.CoincidentEdges < cut[r] {
			logger.Error("remote edges do not cover cut faces", "rank", r,
				"remote", st.RemoteEdges, "cut", cut[r])
			mismatch = true
		}
		if *dumpGraph {
			fmt.Printf("--- rank %d\n%s", r, g)
		}
	}
	if mismatch {
		return fmt.Errorf("graph does not match partition")
	}
	return nil
}

func loadMesh() (*mesh.Global, []int, error) {
	if *meshFile != "" {
		return meshio.ReadMeshFile(*meshFile)
	}
	dims := strings.Split(*boxDims, ",")
	if len(dims) != 3 {
		return nil, nil, fmt.Errorf("box dimensions should be nx,ny,nz, got %q", *boxDims)
	}
	var n [3]int
	for i, s := range dims {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, nil, fmt.Errorf("can't parse box dimension %q: %w", s, err)
		}
		n[i] = v
	}
	g, err := meshio.HexBox(n[0], n[1], n[2])
	return g, nil, err
}

// partition assigns elements to ranks and returns the cut face count each
// rank should see as remote edges
func partition(global *mesh.Global, fileParts []int) ([]int, []int, error) {
	conn, err := partitions.ConnectivityFromMesh(global)
	if err != nil {
		return nil, nil, err
	}
	var layout *partitions.PartitionLayout
	if *strategy == "file" {
		if fileParts == nil {
			return nil, nil, fmt.Errorf("mesh has no partition assignment")
		}
		layout, err = partitions.LayoutFromAssignment(conn, fileParts, *numRanks)
	} else {
		s, perr := partitions.ParseStrategy(*strategy)
		if perr != nil {
			return nil, nil, perr
		}
		pb := &partitions.PartitionBuilder{Mesh: conn, NumPartitions: *numRanks, Strategy: s}
		layout, err = pb.BuildPartitions()
	}
	if err != nil {
		return nil, nil, err
	}
	stats := layout.PartitionStatistics()
	slog.Info("partitioned", "strategy", *strategy, "min", stats.MinElements,
		"max", stats.MaxElements, "imbalance", fmt.Sprintf("%.3f", stats.Imbalance))
	if _, err := partitions.BuildCommPlans(layout, conn); err != nil {
		return nil, nil, err
	}
	cut := partitions.CutFaceCount(partitions.AnalyzeCutFaces(layout, conn), layout.NumPartitions)
	return layout.EToP, cut, nil
}
