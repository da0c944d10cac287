package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"mpy-sync/internal/metrics"
	"mpy-sync/internal/remotefs"
	"mpy-sync/internal/transport"
)

// Upload actions reported to Progress and metrics.
const (
	ActionTransfer = "transfer"
	ActionSkip     = "skip"
	ActionFail     = "fail"
)

// Report lists remote paths by outcome. Failed is the file whose transfer
// broke off and may be partial on the device; NotAttempted holds everything
// after it or after the point of cancellation.
type Report struct {
	Transferred  []string
	Skipped      []string
	Failed       string
	NotAttempted []string
}

// Runner transfers planned candidates one at a time.
type Runner struct {
	FS      *remotefs.FS
	Checker *Checker
	// DryRun decides skips but writes nothing.
	DryRun bool
	// Progress is called once per candidate after its outcome is known.
	Progress func(label string, index, total int, action string)
}

// Run uploads candidates in order and refreshes the tree once at the end.
// The Report is valid even when an error is returned.
func (r *Runner) Run(ctx context.Context, candidates []Candidate) (Report, error) {
	var rep Report
	for i, cand := range candidates {
		if err := ctx.Err(); err != nil {
			rep.NotAttempted = remotePaths(candidates[i:])
			return rep, r.abort(ctx, err)
		}

		action, err := r.one(ctx, cand)
		r.progress(cand.RemotePath, i, len(candidates), action)
		if err != nil {
			rep.Failed = cand.RemotePath
			rep.NotAttempted = remotePaths(candidates[i+1:])
			if ctx.Err() != nil {
				return rep, r.abort(ctx, ctx.Err())
			}
			return rep, r.abort(ctx, fmt.Errorf("upload %s: %w", cand.RemotePath, err))
		}
		if action == ActionSkip {
			rep.Skipped = append(rep.Skipped, cand.RemotePath)
		} else {
			rep.Transferred = append(rep.Transferred, cand.RemotePath)
		}
	}

	if r.DryRun {
		return rep, nil
	}
	if err := ctx.Err(); err != nil {
		return rep, r.abort(ctx, err)
	}
	if err := r.FS.Refresh(ctx); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Runner) one(ctx context.Context, cand Candidate) (string, error) {
	data, err := os.ReadFile(cand.LocalPath)
	if err != nil {
		metrics.RecordUpload(ActionFail, 0)
		return ActionFail, err
	}

	if r.Checker != nil {
		skip, reason, err := r.Checker.Decide(ctx, cand, data)
		if err != nil && !errors.Is(err, transport.ErrNotFound) {
			metrics.RecordUpload(ActionFail, 0)
			return ActionFail, err
		}
		if skip {
			log.Printf("[upload] skip %s: %s", cand.RemotePath, reason)
			metrics.RecordUpload(ActionSkip, 0)
			return ActionSkip, nil
		}
	}
	if r.DryRun {
		return ActionTransfer, nil
	}

	remotePath := "/" + cand.RemotePath
	if err := r.FS.WriteFile(ctx, remotePath, data); err != nil {
		metrics.RecordUpload(ActionFail, 0)
		return ActionFail, err
	}
	if r.Checker != nil && r.Checker.Index != nil {
		if err := r.Checker.Index.Record(remotePath, int64(len(data)), Checksum(data)); err != nil {
			log.Printf("[upload] failed to index %s: %v", remotePath, err)
		}
	}
	metrics.RecordUpload(ActionTransfer, int64(len(data)))
	return ActionTransfer, nil
}

func (r *Runner) progress(label string, i, total int, action string) {
	if r.Progress != nil {
		r.Progress(label, i+1, total, action)
	}
}

// abort refreshes the tree outside of ctx's cancellation so it reflects
// whatever partial progress reached the device.
func (r *Runner) abort(ctx context.Context, err error) error {
	if r.DryRun {
		return err
	}
	if rerr := r.FS.Refresh(context.WithoutCancel(ctx)); rerr != nil {
		log.Printf("[upload] refresh after abort failed: %v", rerr)
	}
	return err
}

func remotePaths(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.RemotePath
	}
	return out
}
