package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"filesweep/internal/logging"
)

// ErrNotInteractive is returned when Interactive has no terminal to ask on.
var ErrNotInteractive = errors.New("confirmation requires a terminal; rerun with --force for unattended cleanup")

// DefaultSampleSize is the number of candidate keys shown when SampleSize is unset.
const DefaultSampleSize = 10

// Interactive prints the summary to Out and waits for "y" or "yes" on In.
// Any other answer, including end of input, declines.
type Interactive struct {
	In         io.Reader
	Out        io.Writer
	Logger     *slog.Logger
	SampleSize int
}

// Confirm implements Gate.
func (g Interactive) Confirm(ctx context.Context, summary Summary) (Decision, error) {
	if !isTerminal(g.In) {
		return Decision{}, ErrNotInteractive
	}
	out := g.Out
	if out == nil {
		out = io.Discard
	}

	writeSummary(out, summary, g.SampleSize)
	fmt.Fprint(out, "Quarantine these objects? [y/N]: ")

	answer, err := readLine(ctx, g.In)
	if err != nil {
		return Decision{}, err
	}
	approved := answer == "y" || answer == "yes"

	logger := logging.WithContext(ctx, logging.NewComponentLogger(g.Logger, "confirm"))
	logger.Info("operator decision",
		logging.String(logging.FieldEventType, logging.EventConfirmationInteractive),
		logging.Bool("approved", approved),
		logging.Int("candidates", summary.Candidates),
	)
	return Decision{Approved: approved, Mode: ModeInteractive}, nil
}

func writeSummary(out io.Writer, s Summary, sampleSize int) {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	fmt.Fprintf(out, "Environment: %s\n", s.Environment)
	fmt.Fprintf(out, "Orphans to quarantine: %d (%s)\n", s.Candidates, humanize.IBytes(uint64(max(s.Bytes, 0))))
	if s.BatchSize > 0 {
		fmt.Fprintf(out, "Batches: %d of up to %d objects\n", (s.Candidates+s.BatchSize-1)/s.BatchSize, s.BatchSize)
	}
	if s.SkippedCached > 0 {
		fmt.Fprintf(out, "Skipped (recently verified): %d\n", s.SkippedCached)
	}
	if s.Missing > 0 {
		fmt.Fprintf(out, "Missing objects (reported only): %d\n", s.Missing)
	}
	if len(s.Sample) == 0 {
		return
	}
	fmt.Fprintln(out, "Sample:")
	for i, key := range s.Sample {
		if i == sampleSize {
			fmt.Fprintf(out, "  ... and %d more\n", s.Candidates-sampleSize)
			break
		}
		fmt.Fprintf(out, "  %s\n", key)
	}
}

func readLine(ctx context.Context, in io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		ch <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", fmt.Errorf("read confirmation: %w", res.err)
		}
		return strings.ToLower(strings.TrimSpace(res.line)), nil
	}
}

// isTerminal reports whether in can prompt an operator. Readers that are
// not files are accepted so the prompt can be scripted.
func isTerminal(in io.Reader) bool {
	if in == nil {
		return false
	}
	file, ok := in.(*os.File)
	if !ok {
		return true
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
