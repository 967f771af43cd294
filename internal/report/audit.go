package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// DocumentSender delivers a generated file, e.g. to the staff chat.
type DocumentSender interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Auditor sends a full data dump once a month, shortly after midnight on the 1st.
type Auditor struct {
	tables TableSource
	sender DocumentSender
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

func NewAuditor(tables TableSource, sender DocumentSender, loc *time.Location, logger *zerolog.Logger) *Auditor {
	if loc == nil {
		loc = time.Local
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "audit").Logger()
	}
	return &Auditor{tables: tables, sender: sender, loc: loc, logger: l, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) {
	for {
		next := NextRun(a.now().In(a.loc))
		a.logger.Info().Time("next_run", next).Msg("next audit export scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := a.ExportNow(ctx); err != nil {
				a.logger.Error().Err(err).Msg("audit export failed")
			}
		}
	}
}

// ExportNow builds the dump and sends it.
func (a *Auditor) ExportNow(ctx context.Context) error {
	var buf bytes.Buffer
	if err := WriteTables(ctx, &buf, a.tables); err != nil {
		return err
	}

	filename := Filename(a.now().In(a.loc).AddDate(0, -1, 0))
	if err := a.sender.SendDocument(ctx, filename, &buf, "Monthly data export"); err != nil {
		return fmt.Errorf("send document: %w", err)
	}

	a.logger.Info().Str("filename", filename).Msg("audit export sent")
	return nil
}

// NextRun returns 00:01 on the first day of the month after now.
func NextRun(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// Filename names the export of the month containing t, like "mediagenda_2026-01.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("mediagenda_%s.xlsx", t.Format("2006-01"))
}
