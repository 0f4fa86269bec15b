package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fond_de_plan/core-go/internal/basemap"
	"fond_de_plan/core-go/internal/geoapi"
	"fond_de_plan/core-go/internal/layer"
	"fond_de_plan/core-go/internal/project"
)

var (
	buildOut  string
	assumeYes bool
)

var buildCmd = &cobra.Command{
	Use:   "build <commune>",
	Short: "Assemble the basemap of one commune and save it as a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", ".", "directory to write the project into")
	buildCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "save without asking for confirmation")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()
	sources, styles, err := loadSources()
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	deps := clientDeps(log)
	deps.Selector = &terminalSelector{in: stdin, out: os.Stderr}
	deps.Progress = func(msg string) { fmt.Fprintln(os.Stderr, msg) }

	writer := project.NewWriter(log, buildOut)
	if assumeYes {
		deps.Saver = writer
	} else {
		deps.Saver = &confirmSaver{writer: writer, in: stdin, out: os.Stderr}
	}

	p := basemap.New(log, deps, basemap.Options{
		Sources:      sources,
		Styles:       styles,
		FetchWorkers: workers,
	}, nil)

	report, err := p.Run(ctx, args[0])
	if err != nil {
		if errors.Is(err, basemap.ErrSelectionCancelled) {
			fmt.Fprintln(os.Stderr, "cancelled")
			return nil
		}
		return err
	}

	printSummary(os.Stdout, report)
	return nil
}

func printSummary(w io.Writer, report *basemap.Report) {
	fmt.Fprintf(w, "%s (INSEE %s, department %s)\n",
		report.Commune.Name, report.Commune.INSEECode, report.Commune.Department)
	for _, o := range report.Outcomes {
		switch o.Status {
		case basemap.OutcomeError:
			fmt.Fprintf(w, "  %-32s unavailable: %s\n", o.DisplayName, o.Err)
		case basemap.OutcomeEmpty:
			fmt.Fprintf(w, "  %-32s no features\n", o.DisplayName)
		default:
			fmt.Fprintf(w, "  %-32s %d features\n", o.DisplayName, o.Features)
		}
	}
	if report.SavedTo != "" {
		fmt.Fprintf(w, "saved to %s\n", report.SavedTo)
	} else {
		fmt.Fprintln(w, "not saved")
	}
	fmt.Fprintf(w, "done in %s\n", report.Duration.Round(10*time.Millisecond))
}

// terminalSelector resolves an ambiguous search by prompting on the
// terminal. Entering nothing or q cancels.
type terminalSelector struct {
	in  *bufio.Reader
	out io.Writer
}

func (s *terminalSelector) SelectCandidate(_ context.Context, candidates []geoapi.Candidate) (geoapi.Candidate, error) {
	fmt.Fprintln(s.out, "several communes match:")
	for i, c := range candidates {
		fmt.Fprintf(s.out, "  [%d] %s (INSEE %s, department %s)\n", i+1, c.Name, c.INSEECode, c.Department)
	}
	for {
		fmt.Fprintf(s.out, "choose 1-%d (q to cancel): ", len(candidates))
		line, err := s.in.ReadString('\n')
		if err != nil {
			return geoapi.Candidate{}, basemap.ErrSelectionCancelled
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "q") {
			return geoapi.Candidate{}, basemap.ErrSelectionCancelled
		}
		n, err := strconv.Atoi(line)
		if err != nil || n < 1 || n > len(candidates) {
			fmt.Fprintln(s.out, "invalid choice")
			continue
		}
		return candidates[n-1], nil
	}
}

// confirmSaver asks before delegating to the project writer.
type confirmSaver struct {
	writer *project.Writer
	in     *bufio.Reader
	out    io.Writer
}

func (s *confirmSaver) Save(ctx context.Context, comp layer.Composition, defaultName string) (string, error) {
	fmt.Fprintf(s.out, "save project %s? [Y/n]: ", defaultName)
	line, err := s.in.ReadString('\n')
	if err != nil && line == "" {
		return "", basemap.ErrSaveDeclined
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes", "o", "oui":
		return s.writer.Save(ctx, comp, defaultName)
	default:
		return "", basemap.ErrSaveDeclined
	}
}
