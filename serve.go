package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jon-Bright/stm32ctl/board"
	"github.com/Jon-Bright/stm32ctl/gpio"
	"github.com/Jon-Bright/stm32ctl/mmio"
	"github.com/Jon-Bright/stm32ctl/rcc"
)

var (
	port int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Bring a board up, then take line commands over TCP",
		Long: "serve runs the same bring-up as apply and then listens for commands such as " +
			"CLOCKS, PART, ENABLE <peripheral>, PIN <channel> [high|low], FLIP <channel> and POWER ON|OFF.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, h, err := apply(boardFile, memFile, cmd.Flags().Changed("mem"), simulate)
			if err != nil {
				return err
			}
			defer h.Close()
			s, err := NewServer(port, res)
			if err != nil {
				return fmt.Errorf("couldn't create server: %v", err)
			}
			s.handleConnections()
			return nil
		},
	}
)

func init() {
	addBoardFlag(serveCmd)
	serveCmd.Flags().IntVar(&port, "port", 24601, "the port that the server should listen to")
	serveCmd.Flags().StringVar(&memFile, "mem", mmio.MEM_FILE, "physical memory device or register image file")
	serveCmd.Flags().BoolVar(&simulate, "simulate", false, "don't wait on real oscillators")
	serveCmd.Flags().StringVar(&powerCtrl, "power-ctrl", "", "GPIO channel which, when set high, turns on board power")
	serveCmd.Flags().StringVar(&powerStatus, "power-status", "", "GPIO channel which reads high once power is healthy")
	serveCmd.Flags().DurationVar(&powerStatusWait, "power-wait", 2*time.Second, "how long to wait for --power-status")
}

type Server struct {
	m *rcc.Manager
	d *gpio.Driver
	l net.Listener
}

func NewServer(port int, res *board.Result) (*Server, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	log.Printf("Listening on port %d", port)
	return &Server{m: res.RCC, d: res.GPIO, l: l}, nil
}

func (s *Server) peripheral(parms string) (rcc.Peripheral, error) {
	if parms == "" {
		return rcc.Peripheral{}, fmt.Errorf("no peripheral given")
	}
	return rcc.PeripheralByName(strings.ToUpper(parms))
}

func (s *Server) channel(parms string) (int, string, error) {
	t := strings.SplitN(parms, " ", 2)
	ch, err := s.d.ChannelByName(t[0])
	if err != nil {
		return 0, "", err
	}
	if len(t) == 1 {
		return ch, "", nil
	}
	return ch, strings.ToLower(t[1]), nil
}

// runCommand carries out one command, writing any reply other than OK to w.
func (s *Server) runCommand(cmd, parms string, w *bufio.Writer) error {
	switch cmd {
	case "CLOCKS":
		c := s.m.Clocks()
		fmt.Fprintf(w, "%d %d %d %d\n", c.SYSCLK, c.HCLK, c.PCLK1, c.PCLK2)
		return nil
	case "PART":
		fmt.Fprintf(w, "%v %d\n", s.m.Variant(), s.m.HSE())
		return nil
	case "REGS":
		for _, r := range s.m.Snapshot() {
			fmt.Fprintf(w, "%s %08X\n", r.Name, r.Value)
		}
		return nil
	case "ENABLE", "DISABLE", "RESET", "STATUS":
		p, err := s.peripheral(parms)
		if err != nil {
			return err
		}
		switch cmd {
		case "ENABLE":
			return s.m.EnableClock(p)
		case "DISABLE":
			return s.m.DisableClock(p)
		case "RESET":
			return s.m.ResetPeripheral(p)
		}
		r := "0\n"
		if s.m.ClockEnabled(p) {
			r = "1\n"
		}
		w.WriteString(r)
		return nil
	case "PIN":
		ch, level, err := s.channel(parms)
		if err != nil {
			return err
		}
		if level == "" {
			l, err := s.d.ReadChannel(ch)
			if err != nil {
				return err
			}
			w.WriteString(l.String() + "\n")
			return nil
		}
		l, err := gpio.ParseLevel(level)
		if err != nil {
			return err
		}
		return s.d.WriteChannel(ch, l)
	case "FLIP":
		ch, _, err := s.channel(parms)
		if err != nil {
			return err
		}
		l, err := s.d.FlipChannel(ch)
		if err != nil {
			return err
		}
		w.WriteString(l.String() + "\n")
		return nil
	case "POWER":
		switch strings.ToUpper(parms) {
		case "ON":
			return powerOn(s.d)
		case "OFF":
			return powerOff(s.d)
		}
		return fmt.Errorf("power what? %q", parms)
	}
	return fmt.Errorf("unknown command: %s", cmd)
}

func (s *Server) handleConnection(c io.ReadWriteCloser, from string) {
	log.Printf("Handling connection from %v", from)
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		l, err := r.ReadString('\n')
		if err == io.EOF {
			log.Printf("EOF for connection %v", from)
			return
		}
		if err != nil {
			log.Printf("Error reading string for connection %v: %v", from, err)
			return
		}
		l = strings.TrimSpace(l)
		log.Printf("Got line '%s'", l)
		t := strings.SplitN(l, " ", 2)
		cmd := strings.ToUpper(t[0])
		parms := ""
		if len(t) > 1 {
			parms = strings.TrimSpace(t[1])
		}
		if cmd == "QUIT" {
			return
		}
		err = s.runCommand(cmd, parms, w)
		if err != nil {
			es := fmt.Sprintf("Error running %s: %v", cmd, err)
			log.Print(es)
			w.WriteString("ERR: " + es + "\n")
		} else {
			w.WriteString("OK\n")
		}
		err = w.Flush()
		if err != nil {
			log.Printf("error writing reply: %v", err)
			return
		}
	}
}

func (s *Server) handleConnections() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			log.Printf("Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(conn, conn.RemoteAddr().String())
	}
}
