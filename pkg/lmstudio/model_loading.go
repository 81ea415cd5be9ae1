package lmstudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// errChannelClosed is returned when the server closes a channel before it
// reported a result.
var errChannelClosed = errors.New("channel closed before completion")

// channelEvent is the payload of a channelSend message. Only the type is
// decoded up front; handlers decode the rest from raw.
type channelEvent struct {
	Type string `json:"type"`
	raw  json.RawMessage
}

// consume dispatches channelSend payloads to handle until it reports done,
// the server ends the channel, or ctx is cancelled. The channel is finished
// on return.
func (ch *channel) consume(ctx context.Context, handle func(ev channelEvent) (done bool, err error)) error {
	defer ch.finish()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-ch.messageCh:
			switch msg.Type {
			case "channelSend":
				ev := channelEvent{raw: msg.Message}
				if err := json.Unmarshal(msg.Message, &ev); err != nil || ev.Type == "" {
					ch.conn.logger.Error("Channel %d: channelSend missing message type", ch.id)
					continue
				}
				ch.conn.logger.Trace("Channel %d: processing message of type %s", ch.id, ev.Type)
				done, err := handle(ev)
				if err != nil || done {
					return err
				}
			case "channelError":
				rerr := msg.remoteError()
				ch.conn.logger.Error("Channel %d error: %s", ch.id, rerr.Error())
				return rerr
			case "channelClose":
				ch.conn.logger.Trace("Channel %d closed", ch.id)
				return errChannelClosed
			default:
				ch.conn.logger.Debug("Channel %d: unhandled message type: %s", ch.id, msg.Type)
			}

		case <-ch.doneCh:
			if err := ch.failure(); err != nil {
				return err
			}
			return errChannelClosed

		case <-ticker.C:
			ch.conn.logger.Trace("Channel %d (%s) waiting for messages...", ch.id, ch.endpoint)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// progressTracker forwards strictly increasing progress values.
type progressTracker struct {
	last float64
	fn   func(float64)
}

func newProgressTracker(fn func(float64)) *progressTracker {
	return &progressTracker{last: -1, fn: fn}
}

func (p *progressTracker) update(progress float64) {
	// Ignore if progress goes backwards or repeats
	if progress <= p.last {
		return
	}
	p.last = progress
	if p.fn != nil {
		p.fn(progress)
	}
}

// loadOnChannel runs a loadModel channel to completion and returns the
// identifier of the loaded instance.
func (nc *namespaceConnection) loadOnChannel(ctx context.Context, modelKey string, opts LoadOptions, progressFn func(float64)) (string, error) {
	identifier := opts.Identifier
	if identifier == "" {
		identifier = modelKey
	}

	fields := []interface{}{}
	if opts.ContextLength > 0 {
		fields = append(fields, map[string]interface{}{
			"key":   "llm.load.contextLength",
			"value": opts.ContextLength,
		})
	}

	ch, err := nc.openChannel(ModelLoadEndpoint, map[string]interface{}{
		"modelKey":   modelKey,
		"identifier": identifier,
		"loadConfigStack": map[string]interface{}{
			"layers": []interface{}{
				map[string]interface{}{
					"layerName": "apiOverride",
					"config":    map[string]interface{}{"fields": fields},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ModelLoadTimeoutSec*time.Second)
		defer cancel()
	}

	progress := newProgressTracker(progressFn)
	var loaded string

	err = ch.consume(ctx, func(ev channelEvent) (bool, error) {
		switch ev.Type {
		case "progress":
			var p struct {
				Progress float64 `json:"progress"`
			}
			if err := json.Unmarshal(ev.raw, &p); err != nil {
				nc.logger.Error("Channel %d: progress message missing valid progress value", ch.id)
				return false, nil
			}
			nc.logger.Trace("Channel %d: progress update: %.1f%%", ch.id, p.Progress*100)
			progress.update(p.Progress)
		case "resolved":
			nc.logger.Trace("Channel %d: model resolved", ch.id)
		case "success":
			var s struct {
				Info struct {
					Identifier string `json:"identifier"`
				} `json:"info"`
			}
			if err := json.Unmarshal(ev.raw, &s); err != nil || s.Info.Identifier == "" {
				return true, fmt.Errorf("success message info missing identifier")
			}
			progress.update(1.0)
			loaded = s.Info.Identifier
			return true, nil
		default:
			nc.logger.Debug("Channel %d: unhandled message type: %s", ch.id, ev.Type)
		}
		return false, nil
	})

	switch {
	case err == nil:
		nc.logger.Debug("Model %s loaded with identifier %s", modelKey, loaded)
		return loaded, nil
	case errors.Is(err, context.DeadlineExceeded):
		return "", fmt.Errorf("model loading: %w", ErrTimeout)
	default:
		return "", fmt.Errorf("model loading failed: %w", err)
	}
}

// downloadOnChannel runs a downloadModel channel to completion and returns
// the key of the downloaded model.
func (nc *namespaceConnection) downloadOnChannel(ctx context.Context, opt DownloadOption, progressFn DownloadProgressFunc) (string, error) {
	ch, err := nc.openChannel(DownloadModelEndpoint, map[string]interface{}{
		"downloadIdentifier": opt.DownloadIdentifier,
	})
	if err != nil {
		return "", err
	}

	var lastBytes int64 = -1
	var modelKey string

	err = ch.consume(ctx, func(ev channelEvent) (bool, error) {
		switch ev.Type {
		case "downloadProgress":
			var p struct {
				Update DownloadProgress `json:"update"`
			}
			if err := json.Unmarshal(ev.raw, &p); err != nil {
				nc.logger.Error("Channel %d: malformed download progress: %v", ch.id, err)
				return false, nil
			}
			if p.Update.DownloadedBytes <= lastBytes {
				return false, nil
			}
			lastBytes = p.Update.DownloadedBytes
			if progressFn != nil {
				progressFn(p.Update)
			}
		case "startFinalizing":
			nc.logger.Debug("Channel %d: finalizing download", ch.id)
		case "success":
			var s struct {
				DefaultIdentifier string `json:"defaultIdentifier"`
			}
			if err := json.Unmarshal(ev.raw, &s); err != nil {
				return true, fmt.Errorf("malformed download result: %w", err)
			}
			modelKey = s.DefaultIdentifier
			return true, nil
		default:
			nc.logger.Debug("Channel %d: unhandled message type: %s", ch.id, ev.Type)
		}
		return false, nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Tell the server to stop; the connection may already be gone.
			_ = ch.send(map[string]interface{}{"type": "cancel"})
			return "", err
		}
		return "", fmt.Errorf("download failed: %w", err)
	}
	return modelKey, nil
}
