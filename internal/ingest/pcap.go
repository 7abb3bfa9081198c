package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadPCAP replays frames carried as UDP payloads to udpPort in a capture
// file. Both pcap and pcapng are accepted. Packets on other ports, and
// payloads that fail to decode, are skipped. Frames with no timestamp take
// the capture time.
func ReadPCAP(ctx context.Context, path string, udpPort int, fn FrameHandler) (ReadStats, error) {
	var stats ReadStats

	file, err := os.Open(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer file.Close()

	src, err := openCapture(bufio.NewReader(file))
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	packets := 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, ci, err := src.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("PCAP read failed after %d packets: %w", packets, err)
		}
		packets++

		packet := gopacket.NewPacket(data, src.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || int(udp.DstPort) != udpPort || len(udp.Payload) == 0 {
			continue
		}

		f, err := DecodeFrame(udp.Payload)
		if err != nil {
			stats.Skipped++
			opsf("PCAP packet %d: %v", packets, err)
			continue
		}
		if f.Timestamp.IsZero() {
			f.Timestamp = ci.Timestamp
		}
		if err := fn(f); err != nil {
			return stats, err
		}
		stats.Frames++
	}
	diagf("PCAP file reading complete: %d packets, %d frames, %d skipped", packets, stats.Frames, stats.Skipped)
	return stats, nil
}

// openCapture sniffs the file magic to pick the pcap or pcapng reader.
func openCapture(r *bufio.Reader) (packetReader, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, err
	}
	// pcapng files start with a Section Header Block.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(r)
}
