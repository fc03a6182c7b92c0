package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"bsfsim/internal/config"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	return executeTo(&bytes.Buffer{}, args...)
}

func executeTo(out *bytes.Buffer, args ...string) error {
	root := newRootCommand()
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	return root.Execute()
}

var tinyRun = []string{
	"--quiet",
	"--order-bytes", "256",
	"--report-bytes", "96",
	"--work-micros", "3000",
	"--process-micros", "500",
	"--latency", "0",
}

func TestRoot_InvalidOutput(t *testing.T) {
	err := execute(t, "local", "--output", "xml")
	require.Error(t, err)
}

func TestLocal_Succeeds(t *testing.T) {
	args := append([]string{"local", "--size", "4", "--link-latency", "100us"}, tinyRun...)
	require.NoError(t, execute(t, args...))
}

func TestLocal_JSONOutput(t *testing.T) {
	args := append([]string{"local", "--size", "3", "--link-latency", "100us", "--output", "json", "--rounds", "2"}, tinyRun...)
	require.NoError(t, execute(t, args...))
}

func TestLocal_ReportAndProgressWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"local", "--size", "3", "--link-latency", "100us",
		"--order-bytes", "256", "--report-bytes", "96", "--work-micros", "3000",
		"--process-micros", "500", "--latency", "0", "--progress-interval", "1ms"})
	require.NoError(t, root.Execute())

	require.Contains(t, out.String(), "BSF Simulator - Run Results")
	require.Contains(t, out.String(), "Workers:           2")
	require.Contains(t, errOut.String(), "bsfsim starting: 2 workers")
	require.Contains(t, errOut.String(), "all participants finished")
	require.NotContains(t, out.String(), "bsfsim starting")
}

func TestLocal_GroupOfOne(t *testing.T) {
	args := append([]string{"local", "--size", "1"}, tinyRun...)
	require.ErrorIs(t, execute(t, args...), config.ErrInvalid)
}

func TestLocal_DomainErrorFailsCheck(t *testing.T) {
	// an assumed latency of 1s makes t_s negative
	args := append([]string{"local", "--size", "2"}, tinyRun...)
	args = append(args, "--latency", "1")
	require.ErrorIs(t, execute(t, args...), errCheckFailed)
}

func TestLocal_ToleranceFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bsfsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
run:
  order_bytes: 128
  report_bytes: 64
  rounds: 1
  work_micros: 2000
  process_micros: 100
  latency: 0
link:
  latency: 100us
tolerances:
  max_runtime: 1ns
`), 0o644))

	err := execute(t, "local", "--quiet", "--size", "3", "--config", path)
	require.ErrorIs(t, err, errCheckFailed)
}

func TestLocal_MissingConfigFile(t *testing.T) {
	err := execute(t, "local", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLaunch_InvalidCount(t *testing.T) {
	require.Error(t, execute(t, "launch", "zero"))
}

func TestRun_RequiresAddresses(t *testing.T) {
	require.Error(t, execute(t, "run"))
}

// parsed resolves the subcommand in args and parses its flags the way
// Execute does, without running it.
func parsed(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd, rest, err := newRootCommand().Find(args)
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags(rest))
	return cmd
}

func TestLaunch_ChildArgsForwardSetFlags(t *testing.T) {
	cmd := parsed(t, "launch", "3", "--rounds", "3", "--order-bytes", "4096", "--quiet",
		"--config", "farm.yaml", "--host", "127.0.0.1")
	addrs := []string{"127.0.0.1:5000", "127.0.0.1:5001", "127.0.0.1:5002"}

	args := childArgs(cmd, addrs[1], addrs, "secret")

	require.Equal(t, []string{"run",
		"--addr", "127.0.0.1:5001",
		"--addrs", "127.0.0.1:5000,127.0.0.1:5001,127.0.0.1:5002",
		"--password", "secret",
	}, args[:7])
	require.ElementsMatch(t, []string{
		"--config=farm.yaml",
		"--order-bytes=4096",
		"--quiet=true",
		"--rounds=3",
	}, args[7:])
}

func TestLaunch_ChildArgsWithoutFlags(t *testing.T) {
	cmd := parsed(t, "launch", "2")
	args := childArgs(cmd, "localhost:5000", []string{"localhost:5000", "localhost:5001"}, defaultPassword)
	require.Len(t, args, 7)
}

func TestLaunch_ChildArgsParseAsRun(t *testing.T) {
	cmd := parsed(t, "launch", "2", "--rounds", "4", "--process-micros", "250")
	addrs := []string{"localhost:5000", "localhost:5001"}

	child := parsed(t, childArgs(cmd, addrs[0], addrs, defaultPassword)...)
	require.Equal(t, "run", child.Name())
	rounds, err := child.Flags().GetInt("rounds")
	require.NoError(t, err)
	require.Equal(t, 4, rounds)
	process, err := child.Flags().GetInt64("process-micros")
	require.NoError(t, err)
	require.Equal(t, int64(250), process)
}

func loopbackAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = l.Addr().String()
		require.NoError(t, l.Close())
	}
	return addrs
}

func TestRun_TwoParticipantsOverTCP(t *testing.T) {
	addrs := loopbackAddrs(t, 2)
	outs := make([]*bytes.Buffer, len(addrs))

	var g errgroup.Group
	for i, addr := range addrs {
		outs[i] = &bytes.Buffer{}
		args := append([]string{"run", "--addr", addr, "--addrs", joinAddrs(addrs),
			"--timeout", "10s", "--output", "json", "--rounds", "2"}, tinyRun...)
		g.Go(func() error { return executeTo(outs[i], args...) })
	}
	require.NoError(t, g.Wait())

	// only the coordinator prints a report
	var report []byte
	for _, out := range outs {
		if out.Len() > 0 {
			require.Nil(t, report, "more than one participant printed a report")
			report = out.Bytes()
		}
	}
	require.NotNil(t, report)

	var decoded struct {
		Report struct {
			GroupSize   int `json:"groupSize"`
			WorkerCount int `json:"workerCount"`
			Rounds      int `json:"rounds"`
		} `json:"report"`
		Phases map[string]struct {
			Count int   `json:"count"`
			Bytes int64 `json:"bytes"`
		} `json:"phases"`
	}
	require.NoError(t, json.Unmarshal(report, &decoded))
	require.Equal(t, 2, decoded.Report.GroupSize)
	require.Equal(t, 1, decoded.Report.WorkerCount)
	require.Equal(t, 2, decoded.Report.Rounds)
	require.Equal(t, 2, decoded.Phases["dispatch"].Count)
	require.Equal(t, int64(2*(256+1)), decoded.Phases["dispatch"].Bytes)
	require.Equal(t, int64(2*96), decoded.Phases["collect"].Bytes)
}
