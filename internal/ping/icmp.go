package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"netmon/internal/models"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// ICMPPinger sends echo requests over a raw socket instead of running the
// ping binary. It needs CAP_NET_RAW (or root). On Linux the socket is bound
// to the target interface with SO_BINDTODEVICE.
type ICMPPinger struct {
	binder  Binder
	id      int
	seq     atomic.Uint32
	now     func() time.Time
	resolve func(ctx context.Context, host string) (net.IP, error)
	listen  func(ctx context.Context, lc *net.ListenConfig, network string) (net.PacketConn, error)
}

// NewICMP creates an ICMPPinger using the given binding strategy
func NewICMP(binder Binder) *ICMPPinger {
	if binder == nil {
		binder = unboundBinder{}
	}
	return &ICMPPinger{
		binder:  binder,
		id:      os.Getpid() & 0xffff,
		now:     time.Now,
		resolve: resolveIP,
		listen:  listenPacket,
	}
}

// Probe sends a single echo request and waits up to timeout for the reply.
func (p *ICMPPinger) Probe(ctx context.Context, target models.Target, timeout time.Duration) (result models.ProbeResult) {
	started := p.now()
	defer func() {
		if r := recover(); r != nil {
			result = models.NewProbeFailure(started, target, fmt.Sprintf("%s: %v", ClassInternal, r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ip, err := p.resolve(ctx, target.Host)
	if err != nil {
		return models.NewProbeFailure(started, target, ClassResolve+": "+err.Error())
	}

	network, proto := "ip4:icmp", protocolICMP
	echoType, replyType := icmp.Type(ipv4.ICMPTypeEcho), icmp.Type(ipv4.ICMPTypeEchoReply)
	unreachType := icmp.Type(ipv4.ICMPTypeDestinationUnreachable)
	if ip.To4() == nil {
		network, proto = "ip6:ipv6-icmp", protocolIPv6ICMP
		echoType, replyType = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
		unreachType = ipv6.ICMPTypeDestinationUnreachable
	}

	var lc net.ListenConfig
	if target.Interface != "" && p.binder.Supported() {
		lc.Control = p.binder.Control(target.Interface)
	}
	conn, err := p.listen(ctx, &lc, network)
	if err != nil {
		if lc.Control != nil && strings.Contains(err.Error(), "SO_BINDTODEVICE") {
			return models.NewProbeFailure(started, target, ClassBinding+": "+err.Error())
		}
		return models.NewProbeFailure(started, target, ClassNotFound+": raw icmp socket: "+err.Error())
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("netmon"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return models.NewProbeFailure(started, target, ClassInternal+": "+err.Error())
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return models.NewProbeFailure(started, target, ClassInternal+": "+err.Error())
	}

	sent := p.now()
	if _, err := conn.WriteTo(payload, &net.IPAddr{IP: ip}); err != nil {
		return models.NewProbeFailure(started, target, ClassUnreachable+": "+err.Error())
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return models.NewProbeFailure(started, target, fmt.Sprintf("%s: no reply within %s", ClassTimeout, timeout))
			}
			return models.NewProbeFailure(started, target, ClassUnreachable+": "+err.Error())
		}
		switch p.match(proto, buf[:n], peer, ip, seq, replyType, unreachType) {
		case replyEcho:
			rtt := p.now().Sub(sent)
			return models.NewProbeSuccess(started, target, float64(rtt.Microseconds())/1000.0)
		case replyUnreachable:
			return models.NewProbeFailure(started, target, fmt.Sprintf("%s: destination unreachable from %v", ClassUnreachable, peer))
		}
	}
}

type replyKind int

const (
	replyIgnore replyKind = iota
	replyEcho
	replyUnreachable
)

// match decides whether a packet read from the raw socket answers the echo
// request with the given seq sent to dst. The socket sees every ICMP packet
// reaching the host, so anything else is ignored.
func (p *ICMPPinger) match(proto int, packet []byte, peer net.Addr, dst net.IP, seq int, replyType, unreachType icmp.Type) replyKind {
	parsed, err := icmp.ParseMessage(proto, packet)
	if err != nil {
		return replyIgnore
	}
	switch parsed.Type {
	case replyType:
		if addr, ok := peer.(*net.IPAddr); ok && !addr.IP.Equal(dst) {
			return replyIgnore
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			return replyIgnore
		}
		return replyEcho
	case unreachType:
		body, ok := parsed.Body.(*icmp.DstUnreach)
		if !ok {
			return replyIgnore
		}
		origDst, id, origSeq, ok := quotedEcho(proto, body.Data)
		if !ok || !origDst.Equal(dst) || id != p.id || origSeq != seq {
			return replyIgnore
		}
		return replyUnreachable
	}
	return replyIgnore
}

// quotedEcho extracts the destination, echo id and seq from the datagram
// quoted in an ICMP error: the original IP header followed by at least the
// first 8 bytes of the echo request.
func quotedEcho(proto int, data []byte) (dst net.IP, id, seq int, ok bool) {
	var hdrLen int
	switch proto {
	case protocolICMP:
		if len(data) < ipv4.HeaderLen || data[0]>>4 != 4 {
			return nil, 0, 0, false
		}
		hdrLen = int(data[0]&0x0f) * 4
		if hdrLen < ipv4.HeaderLen || data[9] != protocolICMP {
			return nil, 0, 0, false
		}
		dst = net.IP(data[16:20])
	case protocolIPv6ICMP:
		if len(data) < ipv6.HeaderLen || data[0]>>4 != 6 || data[6] != protocolIPv6ICMP {
			return nil, 0, 0, false
		}
		hdrLen = ipv6.HeaderLen
		dst = net.IP(data[24:40])
	default:
		return nil, 0, 0, false
	}
	if len(data) < hdrLen+8 {
		return nil, 0, 0, false
	}
	echo := data[hdrLen:]
	id = int(echo[4])<<8 | int(echo[5])
	seq = int(echo[6])<<8 | int(echo[7])
	return dst, id, seq, true
}

func listenPacket(ctx context.Context, lc *net.ListenConfig, network string) (net.PacketConn, error) {
	return lc.ListenPacket(ctx, network, "")
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, fmt.Errorf("no addresses for %s", host)
}
