package capture

import (
	"fmt"
	"io"
	"log"
	"sync"

	"nipi/internal/model"

	"github.com/google/gopacket/pcap"
)

// FileSource replays frames from a pcap file. The sequence is finite and
// restartable: Rewind reopens the file from the beginning. Replay delivery
// blocks instead of dropping, so offline analysis is deterministic.
type FileSource struct {
	path   string
	frames chan model.RawFrame
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu     sync.Mutex
	handle *pcap.Handle
	counters
}

// NewFileSource opens the pcap file and starts replaying frames.
func NewFileSource(path string, buffer int) (*FileSource, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %q: %w", path, err)
	}
	s := &FileSource{
		path:   path,
		handle: handle,
		frames: make(chan model.RawFrame, buffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *FileSource) run() {
	defer s.wg.Done()
	defer close(s.frames)

	linkType := s.handle.LinkType()
	for {
		data, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if err != io.EOF {
				log.Printf("Replay read error on %q: %v", s.path, err)
			}
			return
		}
		frame := model.RawFrame{Data: data, Timestamp: ci.Timestamp, LinkType: linkType}
		s.received.Add(1)
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Rewind returns a fresh FileSource replaying the same file from the start.
func (s *FileSource) Rewind() (*FileSource, error) {
	s.Close()
	return NewFileSource(s.path, cap(s.frames))
}

// Frames implements Source.
func (s *FileSource) Frames() <-chan model.RawFrame { return s.frames }

// Stats implements Source. Replay never drops.
func (s *FileSource) Stats() Stats { return s.stats() }

// Close stops the replay and closes the file handle.
func (s *FileSource) Close() {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.mu.Lock()
		s.handle.Close()
		s.mu.Unlock()
	})
}
