package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/consoledeploy/internal/observability"
)

var logJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func newLogsCmd() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the JSON log file, filtered by site, run or level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			f := cmd.Flags()
			path, _ := f.GetString("file")
			if path == "" {
				path = observability.LogFilePath(cfg.Logger())
			}
			if path == "" {
				return errors.New("no log file: set logger.log_file or pass --file")
			}

			var filter logFilter
			filter.site, _ = f.GetString("site")
			filter.run, _ = f.GetString("run")
			filter.raw, _ = f.GetBool("raw")
			if lvl, _ := f.GetString("level"); lvl != "" {
				parsed, err := zapcore.ParseLevel(lvl)
				if err != nil {
					return err
				}
				filter.minLevel = &parsed
			}
			follow, _ := f.GetBool("follow")
			return tailLog(cmd.Context(), path, follow, filter, cmd.OutOrStdout())
		},
	}
	logsCmd.Flags().String("file", "", "log file (default logger.log_file)")
	logsCmd.Flags().BoolP("follow", "f", false, "keep printing new lines")
	logsCmd.Flags().String("site", "", "only lines for this site id")
	logsCmd.Flags().String("run", "", "only lines for this run id")
	logsCmd.Flags().String("level", "", "minimum level: debug, info, warn, error")
	logsCmd.Flags().Bool("raw", false, "print the JSON lines unchanged")
	return logsCmd
}

type logFilter struct {
	site     string
	run      string
	minLevel *zapcore.Level
	raw      bool
}

func (f logFilter) active() bool {
	return f.site != "" || f.run != "" || f.minLevel != nil
}

// render returns the line to print, or false when the filter rejects it. Lines that are
// not JSON only pass when no filter is set.
func (f logFilter) render(text string) (string, bool) {
	var entry map[string]interface{}
	if err := logJSON.UnmarshalFromString(text, &entry); err != nil {
		return text, !f.active()
	}
	if f.site != "" && fieldString(entry, observability.KeySiteID) != f.site {
		return "", false
	}
	if f.run != "" && fieldString(entry, observability.KeyRunID) != f.run {
		return "", false
	}
	if f.minLevel != nil {
		lvl, err := zapcore.ParseLevel(fieldString(entry, observability.KeyLevel))
		if err != nil || lvl < *f.minLevel {
			return "", false
		}
	}
	if f.raw {
		return text, true
	}
	return formatEntry(entry), true
}

func fieldString(entry map[string]interface{}, key string) string {
	switch v := entry[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// formatEntry prints "ts LEVEL msg key=value ..." with the remaining keys sorted.
func formatEntry(entry map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(fieldString(entry, observability.KeyTime))
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", fieldString(entry, observability.KeyLevel)))
	b.WriteByte(' ')
	b.WriteString(fieldString(entry, observability.KeyMessage))

	keys := make([]string, 0, len(entry))
	for k := range entry {
		switch k {
		case observability.KeyTime, observability.KeyLevel, observability.KeyMessage:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, fieldString(entry, k))
	}
	return b.String()
}

// tailLog streams path through filter until EOF, or until ctx ends when following.
func tailLog(ctx context.Context, path string, follow bool, filter logFilter, out io.Writer) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			if text, keep := filter.render(line.Text); keep {
				if _, err := fmt.Fprintln(out, text); err != nil {
					return err
				}
			}
		}
	}
}
