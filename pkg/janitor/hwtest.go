package janitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/tunnel"
	"github.com/rtsyork/vlab/pkg/util"
)

// testMagic is the fixed string a passing test bitstream writes to the
// board's UART, matching testboards.py's TEST_MAGIC.
const testMagic = "VLAB_TEST_OK"

// BoardTester programs a board with its self-test bitstream and returns
// whatever it wrote to the UART during the capture window. Grounded on
// testboards.py's program_and_read_serial.
type BoardTester interface {
	ProgramAndCapture(ctx context.Context, server string, port int, serial string) (string, error)
}

type sshBoardTester struct {
	containerUser string
	signers       []ssh.Signer
	dialTimeout   time.Duration
	captureWait   time.Duration
}

// NewSSHBoardTester returns a BoardTester that SSHes into the board's
// container, backgrounds a capture of its UART device, programs the
// test bitstream via xsdb, waits captureWait for the board to respond,
// and returns whatever the capture caught.
func NewSSHBoardTester(signers []ssh.Signer, dialTimeout, captureWait time.Duration) BoardTester {
	return &sshBoardTester{containerUser: "root", signers: signers, dialTimeout: dialTimeout, captureWait: captureWait}
}

func (t *sshBoardTester) ProgramAndCapture(ctx context.Context, server string, port int, serial string) (string, error) {
	tun, err := tunnel.Dial(server, port, t.containerUser, t.signers, "", t.dialTimeout)
	if err != nil {
		return "", fmt.Errorf("dial %s container for %s: %w", server, serial, err)
	}
	defer tun.Close()

	cmd := fmt.Sprintf(
		`rm -f /tmp/vlab_test_capture; (cat /dev/ttyFPGA > /tmp/vlab_test_capture &) ; `+
			`/opt/xsct/bin/xsdb /vlab/test.tcl; sleep %d; pkill -f "cat /dev/ttyFPGA" || true; cat /tmp/vlab_test_capture`,
		int(t.captureWait.Seconds()),
	)
	out, err := tun.ExecCommand(cmd)
	if err != nil {
		return out, fmt.Errorf("program %s: %w", serial, err)
	}
	return out, nil
}

// HWTestRunner periodically runs every idle board's self-test bitstream
// and records pass/fail, pulling boards out of circulation first and
// always resetting them afterward regardless of outcome. Grounded on
// testboards.py's test_all_boards: a global RUN_TTL lease serializes
// overlapping sweeps (and is force-reclaimed on an operator trigger).
// Withdrawing a board from both pools keeps the allocator away from it
// while it is tested, and a per-board TEST_TTL marker stops two sweeps
// from testing the same board at once.
type HWTestRunner struct {
	leases     *lease.Leases
	ops        HostOps
	tester     BoardTester
	runTTL     time.Duration
	testingTTL time.Duration
}

// NewHWTestRunner returns an HWTestRunner.
func NewHWTestRunner(leases *lease.Leases, ops HostOps, tester BoardTester, runTTL, testingTTL time.Duration) *HWTestRunner {
	return &HWTestRunner{leases: leases, ops: ops, tester: tester, runTTL: runTTL, testingTTL: testingTTL}
}

func (r *HWTestRunner) Name() string { return "hwtest" }

func (r *HWTestRunner) Run(ctx context.Context) error {
	triggered, err := r.leases.HWTestTriggered(ctx)
	if err != nil {
		return err
	}
	if triggered {
		if err := r.leases.EndHWTestRun(ctx); err != nil {
			util.Warnf("hwtest: clear stale run lease for trigger: %v", err)
		}
		if err := r.leases.ClearHWTestTrigger(ctx); err != nil {
			util.Warnf("hwtest: clear trigger: %v", err)
		}
	}

	acquired, err := r.leases.TryStartHWTestRun(ctx, r.runTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := r.leases.EndHWTestRun(ctx); err != nil {
			util.Warnf("hwtest: release run lease: %v", err)
		}
	}()

	classes, err := r.leases.BoardClasses(ctx)
	if err != nil {
		return err
	}
	for _, class := range classes {
		boards, err := r.leases.BoardsInClass(ctx, class)
		if err != nil {
			util.WithClass(class).Warnf("hwtest: list boards: %v", err)
			continue
		}
		for _, serial := range boards {
			r.testBoard(ctx, class, serial)
		}
	}
	return nil
}

func (r *HWTestRunner) testBoard(ctx context.Context, class, serial string) {
	info, err := r.leases.Snapshot(ctx, serial, class)
	if err != nil {
		util.WithBoard(serial).Warnf("hwtest: snapshot: %v", err)
		return
	}
	if info.LockUser != "" || info.SessionUser != "" || info.Server == "" {
		return
	}

	wasPooled, err := r.leases.WithdrawFromPools(ctx, serial, class)
	if err != nil {
		util.WithBoard(serial).Warnf("hwtest: withdraw: %v", err)
		return
	}
	if !wasPooled {
		return
	}

	claimed, err := r.leases.TryMarkTesting(ctx, serial, r.testingTTL)
	if err != nil {
		util.WithBoard(serial).Warnf("hwtest: mark testing: %v", err)
		r.returnToPool(ctx, class, serial)
		return
	}
	if !claimed {
		r.returnToPool(ctx, class, serial)
		return
	}
	defer func() {
		if err := r.leases.ClearTesting(ctx, serial); err != nil {
			util.WithBoard(serial).Warnf("hwtest: clear testing marker: %v", err)
		}
	}()

	port, err := strconv.Atoi(info.Port)
	if err != nil {
		util.WithBoard(serial).Warnf("hwtest: invalid port %q", info.Port)
		return
	}

	output, testErr := r.tester.ProgramAndCapture(ctx, info.Server, port, serial)

	if err := r.ops.ResetBoard(ctx, info.Server, port, serial); err != nil {
		util.WithBoard(serial).Warnf("hwtest: post-test reset failed: %v", err)
	}

	now := time.Now()
	if testErr != nil {
		util.WithBoard(serial).Warnf("hwtest: %v", testErr)
		r.record(ctx, serial, "fail", testErr.Error(), now)
		return
	}
	if !strings.Contains(output, testMagic) {
		util.WithBoard(serial).Warn("hwtest: magic string not found in captured serial output")
		r.record(ctx, serial, "fail", "magic string not found in captured output", now)
		return
	}

	r.record(ctx, serial, "pass", "", now)
	r.returnToPool(ctx, class, serial)
}

func (r *HWTestRunner) record(ctx context.Context, serial, status, message string, at time.Time) {
	if err := r.leases.RecordHWTestResult(ctx, serial, status, message, at); err != nil {
		util.WithBoard(serial).Warnf("hwtest: record result: %v", err)
	}
}

func (r *HWTestRunner) returnToPool(ctx context.Context, class, serial string) {
	if err := r.leases.MarkAvailable(ctx, serial, class); err != nil {
		util.WithBoard(serial).Warnf("hwtest: return to pool: %v", err)
	}
}
