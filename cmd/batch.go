package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var batchJobs int // Maximum sessions run at once

// sessionStatus is the outcome of one batch session.
type sessionStatus struct {
	Path    string
	Err     error
	Elapsed time.Duration
	Stderr  string
}

// runner executes one session file; the default runs `vehicle-sim run` as a
// subprocess.
type runner func(ctx context.Context, path string) (stderr string, err error)

// batchCmd runs independent sessions concurrently, one subprocess each
var batchCmd = &cobra.Command{
	Use:   "batch <session.yaml>...",
	Short: "Run several independent sessions concurrently",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exe, err := os.Executable()
		if err != nil {
			logrus.Fatalf("Locating executable: %v", err)
		}
		statuses := runBatch(cmd.Context(), args, batchJobs, subprocessRunner(exe))
		fmt.Println(renderBatch(statuses))
		failed := 0
		for _, s := range statuses {
			if s.Err != nil {
				failed++
				logrus.WithField("session", s.Path).Errorf("session failed: %v\n%s", s.Err, s.Stderr)
			}
		}
		if failed > 0 {
			logrus.Fatalf("%d of %d sessions failed", failed, len(statuses))
		}
	},
}

func subprocessRunner(exe string) runner {
	return func(ctx context.Context, path string) (string, error) {
		c := exec.CommandContext(ctx, exe, "run", "--no-progress", "--log", logLevel, path)
		var stderr bytes.Buffer
		c.Stderr = &stderr
		err := c.Run()
		return stderr.String(), err
	}
}

// runBatch runs every session with at most jobs in flight. Sessions share no
// state; one failing does not stop the others.
func runBatch(ctx context.Context, paths []string, jobs int, run runner) []sessionStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	statuses := make([]sessionStatus, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, path := range paths {
		g.Go(func() error {
			start := time.Now()
			stderr, err := run(gctx, path)
			statuses[i] = sessionStatus{Path: path, Err: err, Elapsed: time.Since(start), Stderr: stderr}
			logrus.WithFields(logrus.Fields{"session": path, "ok": err == nil}).Info("batch session finished")
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

// renderBatch formats the batch outcome as a terminal table.
func renderBatch(statuses []sessionStatus) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		status := "ok"
		if s.Err != nil {
			status = "failed: " + strings.TrimSpace(s.Err.Error())
		}
		rows = append(rows, []string{s.Path, status, s.Elapsed.Round(time.Millisecond).String()})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Session", "Status", "Elapsed").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(rows) && rows[row][1] != "ok" {
				return warnStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Render()
}

func init() {
	batchCmd.Flags().IntVar(&batchJobs, "jobs", 4, "Maximum sessions run at once")
}
