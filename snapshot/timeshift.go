package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lockguard/lockguard/errs"
	"github.com/lockguard/lockguard/internal/execx"
)

// TimeshiftStore delegates to the timeshift(8) tool when it is present and
// enabled, holding a ManualStore as its fallback — composition, not an
// inheritance hierarchy, per the design notes. A failed Create or List
// falls back to the ManualStore; a failed Restore or Delete of a timeshift
// snapshot returns the tool's error without a fallback. Manual snapshot ids
// always go to the ManualStore.
type TimeshiftStore struct {
	binary   string
	fallback *ManualStore
	logger   *log.Logger
	timeout  time.Duration
}

// DetectTimeshift looks up the timeshift binary on PATH. It returns
// (nil, false) if the tool is not installed, so callers can fall back to a
// bare ManualStore instead of wrapping one.
func DetectTimeshift(fallback *ManualStore, logger *log.Logger) (*TimeshiftStore, bool) {
	bin, err := exec.LookPath("timeshift")
	if err != nil {
		return nil, false
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TimeshiftStore{binary: bin, fallback: fallback, logger: logger, timeout: 2 * time.Minute}, true
}

func (s *TimeshiftStore) Create(ctx context.Context, description string) (ID, error) {
	tag := strings.ReplaceAll(description, `"`, `'`)
	res, err := execx.Run(ctx, s.timeout, fmt.Sprintf("%s --create --comments %q --yes", s.binary, tag), nil)
	if err != nil {
		s.logger.Printf("[WARN] snapshot: timeshift create failed, falling back to manual backend: %s (%s)", err, res.Output)
		return s.fallback.Create(ctx, description)
	}

	snaps, err := s.listTimeshift(ctx)
	if err != nil || len(snaps) == 0 {
		s.logger.Printf("[WARN] snapshot: timeshift create succeeded but listing failed, falling back to manual backend")
		return s.fallback.Create(ctx, description)
	}
	return snaps[0].ID, nil
}

func (s *TimeshiftStore) List(ctx context.Context) ([]Metadata, error) {
	snaps, err := s.listTimeshift(ctx)
	if err != nil {
		s.logger.Printf("[WARN] snapshot: timeshift list failed, falling back to manual backend: %s", err)
		return s.fallback.List(ctx)
	}
	manual, err := s.fallback.List(ctx)
	if err != nil {
		return snaps, nil
	}
	return append(snaps, manual...), nil
}

func (s *TimeshiftStore) Restore(ctx context.Context, id ID) error {
	if id.Kind != Timeshift {
		return s.fallback.Restore(ctx, id)
	}
	_, err := execx.Run(ctx, s.timeout, fmt.Sprintf("%s --restore --snapshot %q --yes", s.binary, id.Value), nil)
	if err != nil {
		return errs.New(errs.Transient, "snapshot.Restore", err)
	}
	return nil
}

func (s *TimeshiftStore) Delete(ctx context.Context, id ID) error {
	if id.Kind != Timeshift {
		return s.fallback.Delete(ctx, id)
	}
	_, err := execx.Run(ctx, s.timeout, fmt.Sprintf("%s --delete --snapshot %q --yes", s.binary, id.Value), nil)
	if err != nil {
		return errs.New(errs.Transient, "snapshot.Delete", err)
	}
	return nil
}

func (s *TimeshiftStore) Info(ctx context.Context, id ID) (*Metadata, bool, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, m := range all {
		if m.ID == id {
			return &m, true, nil
		}
	}
	return nil, false, nil
}

func (s *TimeshiftStore) Cleanup(ctx context.Context) error {
	return s.fallback.Cleanup(ctx)
}

// listTimeshift parses `timeshift --list` output. The format is a simple
// numbered table; only the snapshot name and tags column are needed here.
func (s *TimeshiftStore) listTimeshift(ctx context.Context) ([]Metadata, error) {
	res, err := execx.Run(ctx, 30*time.Second, s.binary+" --list", nil)
	if err != nil {
		return nil, err
	}

	var out []Metadata
	scanner := bufio.NewScanner(strings.NewReader(res.Output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if _, err := strconv.Atoi(fields[0]); err != nil {
			continue // not a data row (header/separator)
		}
		name := fields[1]
		if !strings.Contains(name, "_") {
			continue
		}
		ts, err := parseTimeshiftName(name)
		if err != nil {
			ts = time.Now()
		}
		out = append(out, Metadata{
			ID:      ID{Kind: Timeshift, Value: name},
			Created: ts,
		})
	}
	return out, nil
}

// parseTimeshiftName extracts the timestamp timeshift encodes in its
// snapshot directory name, e.g. "2024-01-02_15-30-00".
func parseTimeshiftName(name string) (time.Time, error) {
	return time.Parse("2006-01-02_15-04-05", name)
}
