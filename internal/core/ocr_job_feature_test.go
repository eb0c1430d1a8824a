package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/common"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// jobWorld is the state of one scenario.
type jobWorld struct {
	t       *testing.T
	timeout time.Duration
	gate    *gate
	release sync.Once
	h       *harness
	docs    map[string]*entity.Document
	lastErr error
	batch   *entity.Batch
}

func (w *jobWorld) harness() *harness {
	if w.h == nil {
		w.h = newHarness(w.t, w.gate, w.timeout)
	}
	return w.h
}

func (w *jobWorld) releaseEngine() error {
	w.release.Do(func() { close(w.gate.release) })
	return nil
}

func (w *jobWorld) jobTimeout(ms int) error {
	w.timeout = time.Duration(ms) * time.Millisecond
	return nil
}

func (w *jobWorld) heldDocument(name string) error {
	w.docs[name] = w.harness().document(name, []byte("image bytes"))
	return nil
}

func (w *jobWorld) textDocument(name, content string) error {
	w.docs[name] = w.harness().document(name, []byte(content))
	return nil
}

func (w *jobWorld) doc(name string) (*entity.Document, error) {
	d, ok := w.docs[name]
	if !ok {
		return nil, fmt.Errorf("no document %q in this scenario", name)
	}
	return d, nil
}

func (w *jobWorld) requestOCR(name string) error {
	d, err := w.doc(name)
	if err != nil {
		return err
	}
	_, w.lastErr = w.harness().svc.RequestOCR(context.Background(), d.ID)
	return nil
}

func (w *jobWorld) requestSucceeded(name string) error {
	if err := w.requestOCR(name); err != nil {
		return err
	}
	return w.lastErr
}

func (w *jobWorld) rejectedAsConflict() error {
	if !errors.Is(w.lastErr, common.ErrJobConflict) {
		return fmt.Errorf("expected a conflict, got %v", w.lastErr)
	}
	return nil
}

func (w *jobWorld) jobIs(name, status string) error {
	d, err := w.doc(name)
	if err != nil {
		return err
	}
	st, err := w.harness().svc.GetStatus(context.Background(), d.ID)
	if err != nil {
		return err
	}
	if string(st.Status) != status {
		return fmt.Errorf("status = %s, want %s", st.Status, status)
	}
	return nil
}

func (w *jobWorld) awaitStatus(name, status string) (*entity.OCRStatus, error) {
	d, err := w.doc(name)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := w.harness().svc.GetStatus(context.Background(), d.ID)
		if err != nil {
			return nil, err
		}
		if string(st.Status) == status {
			return st, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("status stayed %s, want %s", st.Status, status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (w *jobWorld) becomesWithText(name, status, text string) error {
	st, err := w.awaitStatus(name, status)
	if err != nil {
		return err
	}
	if st.Text != text {
		return fmt.Errorf("text = %q, want %q", st.Text, text)
	}
	return nil
}

func (w *jobWorld) becomesWithError(name, status, fragment string) error {
	st, err := w.awaitStatus(name, status)
	if err != nil {
		return err
	}
	if !strings.Contains(st.Error, fragment) {
		return fmt.Errorf("error %q does not contain %q", st.Error, fragment)
	}
	return nil
}

func (w *jobWorld) correct(name, text string) error {
	d, err := w.doc(name)
	if err != nil {
		return err
	}
	return w.harness().svc.Correct(context.Background(), d.ID, text)
}

func (w *jobWorld) bulk(first, second string) error {
	a, err := w.doc(first)
	if err != nil {
		return err
	}
	b, err := w.doc(second)
	if err != nil {
		return err
	}
	w.batch, err = w.harness().svc.BulkOCR(context.Background(), []uuid.UUID{a.ID, b.ID, uuid.New()})
	return err
}

func (w *jobWorld) acknowledged(total, processed int) error {
	if w.batch == nil {
		return errors.New("no batch")
	}
	if w.batch.TotalDocuments != total || w.batch.ProcessedDocuments != processed {
		return fmt.Errorf("ack = %d/%d, want %d/%d", w.batch.ProcessedDocuments, w.batch.TotalDocuments, processed, total)
	}
	if w.batch.Status != constants.BatchStatusProcessing {
		return fmt.Errorf("ack status = %s", w.batch.Status)
	}
	return nil
}

func (w *jobWorld) completes(succeeded, failed int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b, err := w.harness().svc.WaitBatch(ctx, w.batch.ID)
	if err != nil {
		return err
	}
	if b.Succeeded != succeeded || b.Failed != failed {
		return fmt.Errorf("batch = %d ok / %d failed, want %d / %d", b.Succeeded, b.Failed, succeeded, failed)
	}
	return nil
}

func TestOCRJobFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			w := &jobWorld{
				t:       t,
				timeout: time.Minute,
				gate:    newGate(ocrText("HELD TEXT", 0.95)),
				docs:    map[string]*entity.Document{},
			}

			sc.Step(`^the job timeout is (\d+) milliseconds$`, w.jobTimeout)
			sc.Step(`^a stored document "([^"]*)" whose OCR is held$`, w.heldDocument)
			sc.Step(`^a stored document "([^"]*)" containing "([^"]*)"$`, w.textDocument)
			sc.Step(`^OCR is requested for "([^"]*)"$`, w.requestSucceeded)
			sc.Step(`^OCR is requested for "([^"]*)" again$`, w.requestOCR)
			sc.Step(`^the request is rejected as a conflict$`, w.rejectedAsConflict)
			sc.Step(`^the job for "([^"]*)" is "([^"]*)"$`, w.jobIs)
			sc.Step(`^the OCR engine is released$`, w.releaseEngine)
			sc.Step(`^the job for "([^"]*)" becomes "([^"]*)" with text "([^"]*)"$`, w.becomesWithText)
			sc.Step(`^the job for "([^"]*)" becomes "([^"]*)" with an error containing "([^"]*)"$`, w.becomesWithError)
			sc.Step(`^the text of "([^"]*)" is corrected to "([^"]*)"$`, w.correct)
			sc.Step(`^bulk OCR is requested for "([^"]*)", "([^"]*)" and an unknown document$`, w.bulk)
			sc.Step(`^the batch acknowledges (\d+) documents with (\d+) processed$`, w.acknowledged)
			sc.Step(`^the batch completes with (\d+) succeeded and (\d+) failed$`, w.completes)

			sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
				_ = w.releaseEngine()
				if w.h != nil {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					w.h.queue.Shutdown(sctx)
				}
				return ctx, nil
			})
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("ocr job scenarios failed")
	}
}
