package runtime

import (
	"fmt"
	"net"
	"os/exec"

	"github.com/rs/zerolog"
)

// portPublisher maps a container's in-container evaluator port to a
// free host port using iptables DNAT, adapted from Warren's
// host-mode port publishing (pkg/network's HostPortPublisher) down to
// the single always-TCP port sessiond's persistent-evaluator variant
// needs, with the host port chosen automatically rather than supplied
// by a caller.
type portPublisher struct {
	logger zerolog.Logger
}

func newPortPublisher(logger zerolog.Logger) *portPublisher {
	return &portPublisher{logger: logger}
}

// publish reserves a free host port and installs DNAT/MASQUERADE/FORWARD
// rules forwarding it to containerIP:containerPort, returning the host
// port chosen.
func (p *portPublisher) publish(containerIP string, containerPort int) (int, error) {
	hostPort, err := freePort()
	if err != nil {
		return 0, fmt.Errorf("reserve host port: %w", err)
	}

	rules := [][]string{
		{"-t", "nat", "-A", "PREROUTING", "-p", "tcp", "--dport", fmt.Sprint(hostPort),
			"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, containerPort)},
		{"-t", "nat", "-A", "POSTROUTING", "-p", "tcp", "-d", containerIP,
			"--dport", fmt.Sprint(containerPort), "-j", "MASQUERADE"},
		{"-A", "FORWARD", "-p", "tcp", "-d", containerIP,
			"--dport", fmt.Sprint(containerPort), "-j", "ACCEPT"},
	}
	for _, rule := range rules {
		if err := runIPTables(rule); err != nil {
			p.unpublish(containerIP, containerPort, hostPort)
			return 0, fmt.Errorf("install port forwarding rule: %w", err)
		}
	}
	return hostPort, nil
}

// unpublish removes the rules installed by publish. Errors are logged,
// not returned: teardown is best-effort, matching spec.md §4.6's
// idempotent-teardown discipline.
func (p *portPublisher) unpublish(containerIP string, containerPort, hostPort int) {
	rules := [][]string{
		{"-t", "nat", "-D", "PREROUTING", "-p", "tcp", "--dport", fmt.Sprint(hostPort),
			"-j", "DNAT", "--to-destination", fmt.Sprintf("%s:%d", containerIP, containerPort)},
		{"-t", "nat", "-D", "POSTROUTING", "-p", "tcp", "-d", containerIP,
			"--dport", fmt.Sprint(containerPort), "-j", "MASQUERADE"},
		{"-D", "FORWARD", "-p", "tcp", "-d", containerIP,
			"--dport", fmt.Sprint(containerPort), "-j", "ACCEPT"},
	}
	for _, rule := range rules {
		if err := runIPTables(rule); err != nil {
			p.logger.Debug().Err(err).Msg("port unpublish rule failed (best-effort)")
		}
	}
}

func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}

// freePort asks the kernel for an ephemeral port by binding to :0 and
// reading back what it picked.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
