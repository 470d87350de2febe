// Package confirmation gates destructive restore operations behind an
// explicit interactive approval. Overwriting a live database and its
// filestore is not undoable, so the operator sees exactly what will be
// replaced before anything is touched.
package confirmation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"odoo-backup-tool/internal/backup"
	"odoo-backup-tool/internal/display"
)

// Service prompts for approval of destructive operations.
type Service struct {
	reader *bufio.Reader
	out    io.Writer
	colors *display.ColorSystem
}

// NewService creates a confirmation service reading from stdin.
func NewService() *Service {
	return NewServiceWith(os.Stdin, os.Stdout)
}

// NewServiceWith creates a confirmation service with explicit streams.
func NewServiceWith(in io.Reader, out io.Writer) *Service {
	return &Service{
		reader: bufio.NewReader(in),
		out:    out,
		colors: display.NewColorSystem(),
	}
}

// ConfirmRestore displays what the restore will replace and asks for
// approval. With autoApprove the summary is still printed but the
// prompt is skipped. Interrupts count as refusal.
func (s *Service) ConfirmRestore(meta *backup.ArtifactMetadata, opts backup.RestoreOptions) (bool, error) {
	s.displayRestorePlan(meta, opts)

	if opts.AutoApprove {
		fmt.Fprintln(s.out, s.colors.Colorize("Auto-approving restore...", display.ColorSuccess))
		return true, nil
	}

	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interruptChan)

	inputChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	go func() {
		input, err := s.prompt(opts.TargetDatabase)
		if err != nil {
			errorChan <- err
			return
		}
		inputChan <- input
	}()

	select {
	case <-interruptChan:
		fmt.Fprintln(s.out, "\n"+s.colors.Colorize("Operation cancelled", display.ColorWarning))
		return false, nil
	case err := <-errorChan:
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	case input := <-inputChan:
		return s.parse(input, opts.TargetDatabase), nil
	}
}

func (s *Service) displayRestorePlan(meta *backup.ArtifactMetadata, opts backup.RestoreOptions) {
	fmt.Fprintln(s.out, s.colors.Colorize("DESTRUCTIVE OPERATION", display.ColorError))
	fmt.Fprintln(s.out, strings.Repeat("=", 50))
	mode := opts.Mode()
	if mode == backup.ModeFilestoreOnly {
		fmt.Fprintln(s.out, "The database itself will not be touched.")
	} else {
		fmt.Fprintf(s.out, "Database %q will be dropped and replaced.\n", opts.TargetDatabase)
	}
	if mode != backup.ModeDatabaseOnly {
		fmt.Fprintf(s.out, "The filestore of %q will be replaced (the old tree is kept aside).\n", opts.TargetDatabase)
	}

	if meta != nil {
		fmt.Fprintln(s.out)
		fmt.Fprintf(s.out, "Source artifact: %s\n", meta.ID)
		fmt.Fprintf(s.out, "  Captured from: %s\n", meta.Database)
		fmt.Fprintf(s.out, "  Created:       %s by %s\n", meta.CreatedAt.Format("2006-01-02 15:04:05"), meta.CreatedBy)
		fmt.Fprintf(s.out, "  Size:          %s\n", display.FormatSize(meta.Size))
	}

	if opts.Neutralize {
		fmt.Fprintln(s.out, s.colors.Colorize("The restored copy will be neutralized (mail, crons, payments disarmed).", display.ColorInfo))
	} else {
		fmt.Fprintln(s.out, s.colors.Colorize("WARNING: no neutralization - the copy keeps production behaviors.", display.ColorWarning))
	}
	fmt.Fprintln(s.out)
}

// prompt requires the operator to type the target database name, not
// just "y": the name is the thing being destroyed.
func (s *Service) prompt(targetDatabase string) (string, error) {
	fmt.Fprintf(s.out, "Type the database name (%s) to proceed, or anything else to abort: ", targetDatabase)
	input, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}

func (s *Service) parse(input, targetDatabase string) bool {
	if input == targetDatabase {
		return true
	}
	fmt.Fprintln(s.out, s.colors.Colorize("Aborted - input did not match the database name.", display.ColorWarning))
	return false
}
