package media

import (
	"fmt"
	"net"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const maxPacket = 1500

// UDPSource reads RTP datagrams, e.g. from
// `ffmpeg ... -f rtp rtp://127.0.0.1:5004`.
type UDPSource struct {
	conn net.PacketConn
	buf  []byte
}

func ListenUDP(addr string) (*UDPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &UDPSource{conn: conn, buf: make([]byte, maxPacket)}, nil
}

func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

func (s *UDPSource) ReadRTP() (*rtp.Packet, error) {
	n, _, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(s.buf[:n]); err != nil {
		return nil, fmt.Errorf("unmarshal RTP: %w", err)
	}
	return pkt, nil
}

func (s *UDPSource) Close() error { return s.conn.Close() }

// Local tracks published by a participant. Camera and screen share one
// stream so a swap looks like the same video to the remote.
func NewAudioTrack(streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
}

func NewVideoTrack(id, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, streamID)
}
