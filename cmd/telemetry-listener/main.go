// Command telemetry-listener receives telemetry records on a UDP port, joining
// the group first when the address is multicast, and prints decoded records
// and the per-second packet rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"gonum.org/v1/gonum/num/quat"

	customlog "github.com/open-teleop/tracklink/pkg/log"
	"github.com/open-teleop/tracklink/pkg/wire"
)

var (
	group    = flag.String("group", "192.168.80.15", "Telemetry destination address; multicast groups are joined, other addresses only bind the port")
	port     = flag.Int("port", 5008, "UDP port")
	iface    = flag.String("iface", "", "Interface to join on (default: system choice)")
	entities = flag.Int("entities", 2, "Entities per record")
	withFlag = flag.Bool("flag", true, "Records carry the relational flag byte")
	aligned  = flag.Bool("aligned", false, "Records use the aligned layout")
	quiet    = flag.Bool("quiet", false, "Print only the per-second rate")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	logger := customlog.NewWriterLogger(*logLevel, os.Stderr)

	layout := wire.Layout{Entities: *entities, Flag: *withFlag, Aligned: *aligned}
	conn, err := listen(*group, *port, *iface)
	if err != nil {
		log.Fatalf("telemetry-listener: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	logger.Infof("Listening on %s port %d for %s (%d bytes)", groupLabel(*group), *port, layout, layout.Size())

	buf := make([]byte, 1500)
	var count, total int
	windowStart := time.Now()
	for {
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				logger.Infof("Received %d packets", total)
				return
			}
			logger.Warnf("Read failed: %v", err)
			continue
		}

		count++
		total++
		if elapsed := time.Since(windowStart); elapsed >= time.Second {
			fmt.Printf("rate: %.1f packets/s\n", float64(count)/elapsed.Seconds())
			count = 0
			windowStart = time.Now()
		}

		p, err := layout.Decode(buf[:n])
		if err != nil {
			logger.Warnf("Unexpected record from %s: %v", src, err)
			continue
		}
		if !*quiet {
			fmt.Println(describe(p))
		}
	}
}

func listen(groupAddr string, port int, ifaceName string) (*ipv4.PacketConn, error) {
	c, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind port %d: %w", port, err)
	}
	pc := ipv4.NewPacketConn(c)
	if groupAddr == "" {
		return pc, nil
	}

	ip := net.ParseIP(groupAddr)
	if ip == nil || ip.To4() == nil {
		c.Close()
		return nil, fmt.Errorf("invalid IPv4 address %q", groupAddr)
	}
	// Unicast destinations arrive on the bound port without a membership.
	if !ip.IsMulticast() {
		return pc, nil
	}
	var ifi *net.Interface
	if ifaceName != "" {
		if ifi, err = net.InterfaceByName(ifaceName); err != nil {
			c.Close()
			return nil, fmt.Errorf("unknown interface %q: %w", ifaceName, err)
		}
	}
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to join %s: %w", groupAddr, err)
	}
	return pc, nil
}

func groupLabel(g string) string {
	if ip := net.ParseIP(g); ip != nil && ip.IsMulticast() {
		return "group " + g
	}
	return "unicast"
}

func describe(p wire.Packet) string {
	s := ""
	for i, pos := range p.Positions {
		s += fmt.Sprintf("e%d=(%d,%d,%d) ", i, pos[0], pos[1], pos[2])
	}
	if *withFlag {
		s += fmt.Sprintf("flag=%t ", p.Flag)
	}
	q := p.Orientation
	norm := quat.Abs(quat.Number{Imag: float64(q[0]), Jmag: float64(q[1]), Kmag: float64(q[2]), Real: float64(q[3])})
	return s + fmt.Sprintf("q=(%.4f,%.4f,%.4f,%.4f) |q|=%.4f", q[0], q[1], q[2], q[3], norm)
}
