// Package enginetest provides driver-agnostic conformance testing for modem engines.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gibberwallet/wavebridge/internal/engine"
)

// Capabilities describe what the suite may assume about a driver.
type Capabilities struct {
	// DriverID selects the error token table used for normalization.
	DriverID string

	// Config is a configuration the driver accepts.
	Config engine.Config

	// RejectedConfigs must fail construction with INVALID_CONFIG.
	RejectedConfigs []engine.Config

	// CompletionTimeout bounds how long playback of a short text may take.
	CompletionTimeout time.Duration
}

// ConformanceResult represents the result of a conformance test.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]interface{}
}

// ConformanceReport collects results across the suite.
type ConformanceReport struct {
	DriverID      string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// recorder counts callbacks delivered to one engine.
type recorder struct {
	completions atomic.Int32
	lastOK      atomic.Bool
	done        chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{}, 16)}
}

func (r *recorder) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnPlaybackComplete: func(ok bool, err error) {
			r.lastOK.Store(ok)
			r.completions.Add(1)
			select {
			case r.done <- struct{}{}:
			default:
			}
		},
	}
}

// RunConformance runs the complete conformance suite against factory.
func RunConformance(t *testing.T, factory engine.Factory, caps Capabilities) {
	t.Helper()
	startTime := time.Now()

	if caps.DriverID == "" {
		caps.DriverID = "generic"
	}
	if caps.CompletionTimeout == 0 {
		caps.CompletionTimeout = 2 * time.Second
	}

	report := &ConformanceReport{
		DriverID:      caps.DriverID,
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}

	runConstructionTests(factory, caps, report)
	runCaptureTests(factory, caps, report)
	runPlaybackTests(factory, caps, report)
	runCloseTests(factory, caps, report)
	runContextTests(factory, caps, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Engine conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

func runConstructionTests(factory engine.Factory, caps Capabilities, report *ConformanceReport) {
	for i, cfg := range caps.RejectedConfigs {
		result := ConformanceResult{
			TestName: fmt.Sprintf("Construct_Rejected_%d", i),
			Details:  map[string]interface{}{"protocolId": cfg.ProtocolID, "sampleRate": cfg.SampleRate},
		}
		start := time.Now()
		e, err := factory(cfg, engine.Callbacks{})
		result.Duration = time.Since(start)

		switch {
		case err == nil:
			_ = e.Close()
			result.Error = "construction should have failed"
		case !errors.Is(engine.NormalizeEngineErrorWithDriver(err, nil, caps.DriverID), engine.ErrInvalidConfig):
			result.Error = fmt.Sprintf("expected INVALID_CONFIG, got: %v", err)
		default:
			result.Passed = true
		}
		report.addResult(result)
	}
}

func runCaptureTests(factory engine.Factory, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()

	result := ConformanceResult{TestName: "Capture_StartStop", Details: map[string]interface{}{}}
	start := time.Now()
	e, err := factory(caps.Config, engine.Callbacks{})
	if err != nil {
		result.Error = fmt.Sprintf("construct failed: %v", err)
		report.addResult(result)
		return
	}
	defer e.Close()

	if err := e.StartCapture(ctx); err != nil {
		result.Error = fmt.Sprintf("StartCapture failed: %v", err)
	} else if err := e.StopCapture(ctx); err != nil {
		result.Error = fmt.Sprintf("StopCapture failed: %v", err)
	} else if err := e.StopCapture(ctx); err != nil {
		result.Error = fmt.Sprintf("StopCapture on idle engine failed: %v", err)
	} else {
		result.Passed = true
	}
	result.Duration = time.Since(start)
	report.addResult(result)

	result = ConformanceResult{TestName: "Capture_DoubleStart", Details: map[string]interface{}{}}
	start = time.Now()
	if err := e.StartCapture(ctx); err != nil {
		result.Error = fmt.Sprintf("StartCapture failed: %v", err)
	} else {
		err := e.StartCapture(ctx)
		if err == nil {
			result.Error = "second StartCapture should have failed"
		} else if !errors.Is(engine.NormalizeEngineErrorWithDriver(err, nil, caps.DriverID), engine.ErrBusy) {
			result.Error = fmt.Sprintf("expected BUSY, got: %v", err)
		} else {
			result.Passed = true
			result.Details["actualError"] = err.Error()
		}
	}
	result.Duration = time.Since(start)
	_ = e.StopCapture(ctx)
	report.addResult(result)
}

func runPlaybackTests(factory engine.Factory, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()
	rec := newRecorder()

	result := ConformanceResult{TestName: "Playback_CompletesOnce", Details: map[string]interface{}{}}
	start := time.Now()
	e, err := factory(caps.Config, rec.callbacks())
	if err != nil {
		result.Error = fmt.Sprintf("construct failed: %v", err)
		report.addResult(result)
		return
	}
	defer e.Close()

	if err := e.EncodeAndPlay(ctx, "hi"); err != nil {
		result.Error = fmt.Sprintf("EncodeAndPlay failed: %v", err)
	} else {
		select {
		case <-rec.done:
			// Give a misbehaving driver a chance to fire twice.
			time.Sleep(20 * time.Millisecond)
			if n := rec.completions.Load(); n != 1 {
				result.Error = fmt.Sprintf("expected exactly one completion, got %d", n)
			} else if !rec.lastOK.Load() {
				result.Error = "playback reported failure"
			} else {
				result.Passed = true
			}
		case <-time.After(caps.CompletionTimeout):
			result.Error = fmt.Sprintf("no completion within %v", caps.CompletionTimeout)
		}
	}
	result.Duration = time.Since(start)
	result.Details["completions"] = rec.completions.Load()
	report.addResult(result)

	result = ConformanceResult{TestName: "Playback_TooLong", Details: map[string]interface{}{}}
	start = time.Now()
	text := strings.Repeat("x", caps.Config.MaxPayload()+1)
	err = e.EncodeAndPlay(ctx, text)
	result.Duration = time.Since(start)
	if err == nil {
		result.Error = fmt.Sprintf("EncodeAndPlay of %d bytes should have failed", len(text))
	} else if !errors.Is(engine.NormalizeEngineErrorWithDriver(err, nil, caps.DriverID), engine.ErrPayloadTooLong) {
		result.Error = fmt.Sprintf("expected PAYLOAD_TOO_LONG, got: %v", err)
	} else {
		result.Passed = true
		result.Details["bytes"] = len(text)
	}
	report.addResult(result)
}

func runCloseTests(factory engine.Factory, caps Capabilities, report *ConformanceReport) {
	ctx := context.Background()
	rec := newRecorder()

	result := ConformanceResult{TestName: "Close_AbandonsPlayback", Details: map[string]interface{}{}}
	start := time.Now()
	e, err := factory(caps.Config, rec.callbacks())
	if err != nil {
		result.Error = fmt.Sprintf("construct failed: %v", err)
		report.addResult(result)
		return
	}

	if err := e.EncodeAndPlay(ctx, "bye"); err != nil {
		result.Error = fmt.Sprintf("EncodeAndPlay failed: %v", err)
	} else if err := e.Close(); err != nil {
		result.Error = fmt.Sprintf("Close failed: %v", err)
	} else {
		select {
		case <-rec.done:
			result.Error = "completion delivered after Close"
		case <-time.After(caps.CompletionTimeout):
			result.Passed = true
		}
	}
	result.Duration = time.Since(start)
	report.addResult(result)

	result = ConformanceResult{TestName: "Close_LevelReset", Details: map[string]interface{}{}}
	if lvl := e.Level(); lvl != 0 {
		result.Error = fmt.Sprintf("expected level 0 after Close, got %f", lvl)
	} else {
		result.Passed = true
	}
	report.addResult(result)
}

func runContextTests(factory engine.Factory, caps Capabilities, report *ConformanceReport) {
	result := ConformanceResult{TestName: "Context_Cancelled", Details: map[string]interface{}{}}
	start := time.Now()
	e, err := factory(caps.Config, engine.Callbacks{})
	if err != nil {
		result.Error = fmt.Sprintf("construct failed: %v", err)
		report.addResult(result)
		return
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	captureErr := e.StartCapture(ctx)
	playErr := e.EncodeAndPlay(ctx, "hi")
	result.Duration = time.Since(start)

	switch {
	case captureErr == nil:
		result.Error = "StartCapture with cancelled context should have failed"
	case playErr == nil:
		result.Error = "EncodeAndPlay with cancelled context should have failed"
	case !errors.Is(engine.NormalizeEngineError(captureErr, nil), engine.ErrCancelled):
		result.Error = fmt.Sprintf("expected CANCELLED, got: %v", captureErr)
	default:
		result.Passed = true
	}
	report.addResult(result)
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Helper()
	t.Logf("%s", strings.Repeat("=", 72))
	t.Logf("ENGINE CONFORMANCE REPORT (%s)", report.DriverID)
	t.Logf("Passed: %d/%d in %v", report.PassedTests, report.TotalTests, report.Duration)
	t.Logf("%s", strings.Repeat("-", 72))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		details := result.Error
		if details == "" && len(result.Details) > 0 {
			parts := make([]string, 0, len(result.Details))
			for k, v := range result.Details {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			details = strings.Join(parts, ", ")
		}
		t.Logf("%-28s %-5s %-12s %s", result.TestName, status, result.Duration, details)
	}
	t.Logf("%s", strings.Repeat("=", 72))
}
