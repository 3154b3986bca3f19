// Package registry imports container images between registries by running
// the copy tool and reporting its transcript back to the room.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opentelekomcloud/otcbot/pkg/config"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
	"github.com/opentelekomcloud/otcbot/pkg/metrics"
)

// Notifier is the room output the importer needs.
type Notifier interface {
	SendText(ctx context.Context, roomID, text string) error
	SendMarkdown(ctx context.Context, roomID, markdown string) error
	SetTyping(ctx context.Context, roomID string, typing bool) error
}

type Options struct {
	// Path of the copy tool binary.
	Path    string
	Timeout time.Duration
	Metrics *metrics.Metrics
}

type Importer struct {
	images   config.ImageMapping
	notifier Notifier
	executor Executor
	opts     Options
}

func NewImporter(images config.ImageMapping, notifier Notifier, executor Executor, opts Options) *Importer {
	if opts.Path == "" {
		opts.Path = config.DefaultSkopeoPath
	}
	if executor == nil {
		executor = ProcessExecutor{}
	}
	return &Importer{
		images:   images,
		notifier: notifier,
		executor: executor,
		opts:     opts,
	}
}

// CopyArgs returns the copy tool arguments for one image tag.
func CopyArgs(img config.Image, tag string) []string {
	return []string{
		"copy",
		"docker://" + img.Upstream + ":" + tag,
		"docker://" + img.Downstream + ":" + tag,
		"-a",
	}
}

// Execute copies imageKey:tag from its upstream to its downstream
// repository and posts the transcript to roomID. An unknown key is reported
// to the room and is not an error. A copy that exits non-zero is reported
// the same way as a successful one.
func (i *Importer) Execute(ctx context.Context, roomID, imageKey, tag string) error {
	img, ok := i.images.Lookup(imageKey)
	if !ok {
		i.opts.Metrics.Import("not_configured")
		logger.InfoCF("registry", "Image not configured", map[string]any{
			"room_id": roomID,
			"image":   imageKey,
		})
		return i.notifier.SendText(ctx, roomID, fmt.Sprintf("Image %s is not configured", imageKey))
	}

	ack := fmt.Sprintf("Got it. Importing %s:%s to %s:%s ...", img.Upstream, tag, img.Downstream, tag)
	if err := i.notifier.SendText(ctx, roomID, ack); err != nil {
		return err
	}

	if err := i.notifier.SetTyping(ctx, roomID, true); err != nil {
		logger.WarnCF("registry", "Failed to start typing notice", map[string]any{
			"room_id": roomID,
			"error":   err.Error(),
		})
	}
	defer i.stopTyping(ctx, roomID)

	jobID := uuid.NewString()
	args := CopyArgs(img, tag)
	transcript := NewTranscript(i.opts.Path, args)

	logger.InfoCF("registry", "Starting image import", map[string]any{
		"job_id":     jobID,
		"room_id":    roomID,
		"image":      imageKey,
		"tag":        tag,
		"upstream":   img.Upstream,
		"downstream": img.Downstream,
	})

	res, runErr := i.run(ctx, args)
	switch {
	case errors.Is(runErr, ErrExecutorStart):
		i.opts.Metrics.Import("start_error")
		transcript.Output(runErr.Error())
	case runErr != nil:
		i.opts.Metrics.Import("failure")
		transcript.Output(res.Stderr + runErr.Error())
	case res.Success:
		i.opts.Metrics.Import("success")
		transcript.Output(res.Stdout)
	default:
		i.opts.Metrics.Import("failure")
		transcript.Output(res.Stderr)
	}

	logger.InfoCF("registry", "Image import finished", map[string]any{
		"job_id":    jobID,
		"success":   res.Success,
		"exit_code": res.ExitCode,
	})

	if err := i.notifier.SendMarkdown(ctx, roomID, transcript.String()); err != nil {
		return errors.Join(runErr, fmt.Errorf("send transcript: %w", err))
	}
	return runErr
}

func (i *Importer) run(ctx context.Context, args []string) (Result, error) {
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := i.executor.Run(ctx, i.opts.Path, args)
	i.opts.Metrics.ObserveImportDuration(time.Since(start))

	if err == nil && !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Stderr += fmt.Sprintf("\ntimed out after %s", i.opts.Timeout)
	}
	return res, err
}

// stopTyping clears the typing notice even when ctx is already cancelled.
func (i *Importer) stopTyping(ctx context.Context, roomID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := i.notifier.SetTyping(ctx, roomID, false); err != nil {
		logger.WarnCF("registry", "Failed to stop typing notice", map[string]any{
			"room_id": roomID,
			"error":   err.Error(),
		})
	}
}
