package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/flowtree/internal/buildinfo"
	"github.com/l7mp/flowtree/pkg/binder"
	"github.com/l7mp/flowtree/pkg/builder"
	"github.com/l7mp/flowtree/pkg/expr"
	"github.com/l7mp/flowtree/pkg/statestore"
	"github.com/l7mp/flowtree/pkg/step"
	"github.com/l7mp/flowtree/pkg/tree"
	"github.com/l7mp/flowtree/pkg/util"
	"github.com/l7mp/flowtree/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var development bool
	var scenario string
	var printDOT bool

	flag.BoolVar(&development, "development", true, "Use a human-readable, development-mode log encoder.")
	flag.StringVar(&scenario, "scenario", "s1", "Demo pipeline to run: s1 (nested group-by) or s3 (group-by + sum + filter).")
	flag.BoolVar(&printDOT, "dot", false, "Print the resulting type descriptor as a DOT graph instead of the materialized tree.")
	flag.Parse()

	zapCfg := zap.NewProductionConfig()
	if development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}
	zapLog, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog).WithName("flowtree")

	info := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	log.Info("starting flowtreectl " + info.String())

	var last step.Step
	var input *step.InputStep
	switch scenario {
	case "s1":
		last, input = buildS1(log)
	case "s3":
		last, input = buildS3(log)
	default:
		fmt.Fprintln(os.Stderr, "unknown scenario:", scenario)
		os.Exit(1)
	}

	store := statestore.New(log)
	b := binder.Bind(last, store, binder.DefaultBatchSize, 5*time.Millisecond, log)
	defer b.Close()

	if scenario == "s1" {
		runS1(input)
	} else {
		runS3(input, b)
	}
	b.ForceFlush()

	if printDOT {
		fmt.Println(visualize.DOT(last.TypeDescriptor()))
		return
	}
	fmt.Println(util.Stringify(rowsToAny(store.Snapshot())))
}

// buildS1 mirrors the nested-group-by scenario: states grouping cities grouping
// towns, each town carrying a population.
func buildS1(log logr.Logger) (step.Step, *step.InputStep) {
	bld := builder.From(log)
	bld.GroupBy([]string{"state"}, "cities").
		GroupBy([]string{"city"}, "towns")
	return bld.Build(), bld.Input()
}

func runS1(input *step.InputStep) {
	input.Add("t1", tree.Props{"state": "TX", "city": "Dallas", "town": "Plano", "pop": 1.0})
	input.Add("t2", tree.Props{"state": "TX", "city": "Dallas", "town": "Richardson", "pop": 2.0})
	input.Add("t3", tree.Props{"state": "TX", "city": "Houston", "town": "Katy", "pop": 6.0})
}

// buildS3 mirrors the group-by + sum + filter scenario: customers grouping orders,
// summed into totalAmount, kept only when the total exceeds 100.
func buildS3(log logr.Logger) (step.Step, *step.InputStep) {
	bld := builder.From(log)
	bld.GroupBy([]string{"cust"}, "orders").
		Sum("amount", "totalAmount").
		Filter(func(view tree.Props) bool {
			return expr.Gt(expr.Field("totalAmount"), expr.Const(100.0))(view)
		}, []string{"totalAmount"})
	return bld.Build(), bld.Input()
}

func runS3(input *step.InputStep, b *binder.Binder) {
	input.Add("o1", tree.Props{"cust": "C", "amount": 50.0})
	b.ForceFlush()
	input.Add("o2", tree.Props{"cust": "C", "amount": 100.0})
}

func rowsToAny(a *tree.Array) []map[string]any {
	if a == nil {
		return nil
	}
	return util.Map(func(r tree.Row) map[string]any { return map[string]any(r.Props) }, a.Rows)
}
