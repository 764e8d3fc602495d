package generate

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stleox/chrometrace/pkg/cmd/common"
	"github.com/stleox/chrometrace/pkg/config"
	"github.com/stleox/chrometrace/pkg/exporter"
	"github.com/stleox/chrometrace/pkg/span"
	attr "go.opentelemetry.io/otel/attribute"
	tr "go.opentelemetry.io/otel/trace"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"
)

const categoryGenerate = "generate"

type options struct {
	output string
	count  int
	depth  int
	print  bool
}

func New(vp *viper.Viper) *cobra.Command {
	var opts options

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Write a sample span log to test with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			return run(ctx, cmd, vp, opts)
		},
	}

	flags := pflag.NewFlagSet("generate", pflag.ContinueOnError)
	flags.StringVarP(&opts.output, "output", "o", config.StdStream, "Output file to which to write the span log")
	flags.IntVarP(&opts.count, "count", "c", config.GenerateCount, "How many concurrent workers record spans")
	flags.IntVar(&opts.depth, "depth", config.GenerateDepth, "How many nested steps each worker records")
	flags.BoolVar(&opts.print, "print", false, "Also print every span to stderr")
	generate.Flags().AddFlagSet(flags)
	return generate
}

func run(ctx context.Context, cmd *cobra.Command, vp *viper.Viper, opts options) (retErr error) {
	if opts.count < 0 || opts.depth < 0 {
		return errors.New("--count and --depth must not be negative")
	}
	compression, err := span.ParseCompression(vp.GetString("compression"))
	if err != nil {
		return err
	}

	out, closeOut, err := common.OpenOutput(opts.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeOut(); err != nil && retErr == nil {
			retErr = &common.ProcessError{Err: err}
		}
	}()

	w, err := span.NewWriter(out, compression)
	if err != nil {
		return err
	}
	exp := exporter.New(w)

	var echo io.Writer
	if opts.print {
		echo = cmd.ErrOrStderr()
	}
	tp, err := exporter.NewTracerProvider(exp, echo)
	if err != nil {
		return err
	}
	// shutdown flushes the record writer before the output is closed
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil && retErr == nil {
			retErr = &common.ProcessError{Err: err}
		}
	}()

	work(ctx, tp.Tracer("chrometrace/generate"), opts.count, opts.depth)
	logrus.WithField("spans", exp.Count()).Debug("generated span log")
	return ctx.Err()
}

// work runs n workers, each recording a root span with depth nested steps.
func work(ctx context.Context, tracer tr.Tracer, n, depth int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			attrs := tr.WithAttributes(
				attr.String(config.KeyCategories, categoryGenerate),
				attr.String(config.KeyTid, strconv.Itoa(tid)))

			wctx, root := tracer.Start(ctx, fmt.Sprintf("worker-%d", tid), attrs)
			defer root.End()
			step(wctx, tracer, attrs, depth)
		}(i + 1)
	}
	wg.Wait()
}

func step(ctx context.Context, tracer tr.Tracer, attrs tr.SpanStartEventOption, depth int) {
	if depth == 0 || ctx.Err() != nil {
		return
	}
	sctx, s := tracer.Start(ctx, fmt.Sprintf("step-%d", depth), attrs, tr.WithAttributes(attr.Int("depth", depth)))
	defer s.End()

	time.Sleep(config.GenerateStep)
	step(sctx, tracer, attrs, depth-1)
}
