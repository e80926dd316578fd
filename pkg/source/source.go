// Package source reads decoded packets from newline-delimited JSON, either
// once from a reader or by following a growing capture file.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/nxadm/tail"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/packet"
)

// maxLineSize bounds one JSONL record.
const maxLineSize = 1 << 20

// ErrEmptyBatch is returned by ParseBatch for input holding no packets.
var ErrEmptyBatch = errors.New("no packets in input")

// ParseLine decodes one JSONL record. Blank lines and lines starting with
// '#' yield nil without error.
func ParseLine(line []byte) (*packet.Packet, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return nil, nil
	}
	var pkt packet.Packet
	if err := json.Unmarshal(line, &pkt); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	return &pkt, nil
}

// ParseBatch decodes either a single packet object or an array of packets.
func ParseBatch(data []byte) ([]*packet.Packet, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyBatch
	}
	if data[0] == '[' {
		var pkts []*packet.Packet
		if err := json.Unmarshal(data, &pkts); err != nil {
			return nil, fmt.Errorf("failed to decode packet batch: %w", err)
		}
		if len(pkts) == 0 {
			return nil, ErrEmptyBatch
		}
		return pkts, nil
	}
	pkt, err := ParseLine(data)
	if err != nil {
		return nil, err
	}
	if pkt == nil {
		return nil, ErrEmptyBatch
	}
	return []*packet.Packet{pkt}, nil
}

// ReadAll sends every packet in r to out and returns the number sent.
// Malformed lines are logged and skipped.
func ReadAll(ctx context.Context, r io.Reader, out chan<- *packet.Packet) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	sent := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		pkt, err := ParseLine(scanner.Bytes())
		if err != nil {
			log.WithError(err).WithField("line", lineNo).Warn("packet_line_skipped")
			continue
		}
		if pkt == nil {
			continue
		}
		select {
		case out <- pkt:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return sent, fmt.Errorf("failed to read packets: %w", err)
	}
	return sent, nil
}

// FollowOptions tune Follow.
type FollowOptions struct {
	// FromStart replays the existing file contents before following.
	FromStart bool
	// Poll uses stat polling instead of inotify.
	Poll bool
}

// Follow tails path, sending every appended packet to out until ctx is
// cancelled. The file is reopened when rotated.
func Follow(ctx context.Context, path string, opts FollowOptions, out chan<- *packet.Packet) error {
	whence := io.SeekEnd
	if opts.FromStart {
		whence = io.SeekStart
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      opts.Poll,
		Location:  &tail.SeekInfo{Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer t.Cleanup()
	defer func() {
		if err := t.Stop(); err != nil {
			log.WithError(err).Debug("tail_stop_failed")
		}
	}()

	logger := log.WithFields(log.Fields{"component": "source", "path": path})
	logger.Info("follow_started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("follow_stopped")
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				logger.WithError(line.Err).Warn("tail_line_error")
				continue
			}
			pkt, err := ParseLine([]byte(line.Text))
			if err != nil {
				logger.WithError(err).Warn("packet_line_skipped")
				continue
			}
			if pkt == nil {
				continue
			}
			select {
			case out <- pkt:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
