package capture

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"nipi/internal/config"
	"nipi/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// LiveSource captures frames from a network interface via libpcap. Kernel
// ring drops are surfaced through Stats; when the pipeline cannot keep pace,
// frames are dropped at the channel boundary with a counted drop, never by
// blocking the capture goroutine.
type LiveSource struct {
	iface   string
	cfg     config.CaptureConfig
	backoff time.Duration

	mu     sync.Mutex // guards handle across reopen/Stats/Close
	handle *pcap.Handle
	frames chan model.RawFrame
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	counters
}

// NewLiveSource opens the configured interface and starts the capture
// goroutine. Interface-not-found and permission-denied surface here as
// errors; they abort startup.
func NewLiveSource(cfg config.CaptureConfig, backoff time.Duration) (*LiveSource, error) {
	iface := cfg.Interface
	if iface == "" || iface == "auto" {
		selected, err := autoSelectInterface()
		if err != nil {
			return nil, err
		}
		iface = selected
		log.Printf("Auto-selected capture interface %q", iface)
	}

	s := &LiveSource{
		iface:   iface,
		cfg:     cfg,
		backoff: backoff,
		frames:  make(chan model.RawFrame, cfg.FrameBuffer),
		done:    make(chan struct{}),
	}
	handle, err := s.open()
	if err != nil {
		return nil, err
	}
	s.handle = handle

	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *LiveSource) open() (*pcap.Handle, error) {
	handle, err := pcap.OpenLive(s.iface, int32(s.cfg.SnapshotLen), s.cfg.Promiscuous, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %q: %w", s.iface, err)
	}
	if s.cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(s.cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", s.cfg.BPFFilter, err)
		}
	}
	return handle, nil
}

// autoSelectInterface picks the first up, non-loopback interface.
func autoSelectInterface() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp != 0 && ifc.Flags&net.FlagLoopback == 0 {
			return ifc.Name, nil
		}
	}
	return "", fmt.Errorf("no usable capture interface found")
}

func (s *LiveSource) run() {
	defer s.wg.Done()
	defer close(s.frames)

	attempts := 0
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.Lock()
		handle := s.handle
		s.mu.Unlock()

		if handle == nil {
			// A previous read error closed the handle: reopen with backoff,
			// a bounded number of times, before escalating to terminal.
			attempts++
			if attempts > s.cfg.MaxReopenAttempts {
				log.Printf("Capture on %q gave up after %d reopen attempts", s.iface, attempts-1)
				return
			}
			select {
			case <-time.After(s.backoff):
			case <-s.done:
				return
			}
			reopened, openErr := s.open()
			if openErr != nil {
				log.Printf("Reopen of %q failed (attempt %d/%d): %v", s.iface, attempts, s.cfg.MaxReopenAttempts, openErr)
				continue
			}
			s.mu.Lock()
			s.handle = reopened
			s.mu.Unlock()
			continue
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			select {
			case <-s.done:
				return
			default:
			}
			log.Printf("Capture read error on %q: %v", s.iface, err)
			s.recordKernelDrops()
			s.mu.Lock()
			s.handle.Close()
			s.handle = nil
			s.mu.Unlock()
			continue
		}
		attempts = 0

		frame := model.RawFrame{
			// ReadPacketData returns a fresh buffer per packet; the frame
			// owns it until the parser copies what it needs.
			Data:      data,
			Timestamp: ci.Timestamp,
			LinkType:  layers.LinkTypeEthernet,
		}
		s.received.Add(1)
		select {
		case s.frames <- frame:
		default:
			// Live capture has no "retry later": drop at the boundary.
			s.bufferDrops.Add(1)
		}
	}
}

func (s *LiveSource) recordKernelDrops() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return
	}
	if st, err := s.handle.Stats(); err == nil {
		s.kernelDrops.Store(uint64(st.PacketsDropped + st.PacketsIfDropped))
	}
}

// Frames implements Source.
func (s *LiveSource) Frames() <-chan model.RawFrame { return s.frames }

// Stats implements Source. Kernel drop counts are refreshed from the handle.
func (s *LiveSource) Stats() Stats {
	s.recordKernelDrops()
	return s.stats()
}

// Close stops the capture loop and closes the handle.
func (s *LiveSource) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.handle != nil {
			s.handle.Close()
			s.handle = nil
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
}
