// Package audit provides PDR (Process Decision Record) writing for hive.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/hive/internal/models"
	"github.com/sirupsen/logrus"
)

// Sink persists PDR entries. *store.Store satisfies it.
type Sink interface {
	WritePDR(ctx context.Context, action, inputsHash, outcome string, taskID int64, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails. A failed write
// is logged and never fails the audited action.
type PDRWriter struct {
	sink Sink
	log  logrus.FieldLogger
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s Sink, log logrus.FieldLogger) *PDRWriter {
	return &PDRWriter{sink: s, log: log.WithField("component", "audit")}
}

// Record writes a PDR entry for a state-mutating action.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs any, outcome string, taskID int64, details string) *models.PDREntry {
	if w == nil {
		return nil
	}
	entry, err := w.sink.WritePDR(ctx, action, hashInputs(inputs), outcome, taskID, details)
	if err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"action":  action,
			"task_id": taskID,
		}).Warn("failed to write PDR")
		return nil
	}
	return entry
}

// Transition records a task state change made by actor. Steps outside the
// forward lifecycle are marked manual.
func (w *PDRWriter) Transition(ctx context.Context, taskID int64, from, to models.State, actor string) *models.PDREntry {
	kind := "forward"
	if !from.CanTransition(to) {
		kind = "manual"
	}
	inputs := map[string]any{"task_id": taskID, "from": from, "to": to, "actor": actor}
	return w.Record(ctx, "task.transition", inputs, "success", taskID,
		fmt.Sprintf("%s -> %s (%s) by %s", from, to, kind, actor))
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
