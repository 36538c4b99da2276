// Command jvcs is the JVCS client: it sets up local workspaces and
// invokes remote actions against a jvcsd server over the wire protocol
// of §4.2/§4.8.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jvcs/jvcs/internal/auth"
	"github.com/jvcs/jvcs/internal/localws"
	"github.com/jvcs/jvcs/internal/wire"
)

var (
	app = kingpin.New("jvcs", "JVCS client.")

	workspaceRoot = app.Flag("workspace", "Workspace root directory.").Default(".").Short('w').String()
	debug         = app.Flag("debug", "Enable debug-level logging.").Bool()

	setupCmd      = app.Command("setup", "Initialize a local workspace.")
	setupUpstream = setupCmd.Arg("upstream", "Vault address (host:port).").Required().String()
	setupAccount  = setupCmd.Flag("account", "Account id to authenticate as.").Required().String()

	connectCmd     = app.Command("connect", "Authenticate to the workspace's upstream vault (does not stain the workspace).")
	connectKeyPath = connectCmd.Flag("key", "Path to this account's private key PEM.").Required().String()

	invokeCmd     = app.Command("invoke", "Invoke a remote action by name with a json args blob.")
	invokeName    = invokeCmd.Arg("action", "Action name.").Required().String()
	invokeArgs    = invokeCmd.Arg("args-json", "Action arguments as a json object.").Default("{}").String()
	invokeKeyPath = invokeCmd.Flag("key", "Path to this account's private key PEM.").Required().String()

	trackCmd            = app.Command("track", "Classify workspace paths against a sheet and run the create/update/sync subphases (§4.9).")
	trackSheet           = trackCmd.Arg("sheet", "Sheet name.").Required().String()
	trackPaths           = trackCmd.Arg("paths", "Workspace-relative paths to track.").Strings()
	trackKeyPath         = trackCmd.Flag("key", "Path to this account's private key PEM.").Required().String()
	trackHintsJSON       = trackCmd.Flag("hints", `JSON object mapping a modified path to {"next_version":"...","description":"..."}.`).Default("{}").String()
	trackAllowOverwrite  = trackCmd.Flag("allow-overwrite-modified", "Overwrite locally modified files not held by me instead of skipping them.").Bool()

	latestCmd     = app.Command("update-to-latest-info", "Run the three-exchange update_to_latest_info protocol (§4.10).")
	latestKeyPath = latestCmd.Flag("key", "Path to this account's private key PEM.").Required().String()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	var err error
	switch cmd {
	case setupCmd.FullCommand():
		err = runSetup(logger)
	case connectCmd.FullCommand():
		err = runConnect(logger)
	case invokeCmd.FullCommand():
		err = runInvoke(logger)
	case trackCmd.FullCommand():
		err = runTrack(logger)
	case latestCmd.FullCommand():
		err = runUpdateToLatestInfo(logger)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func runSetup(logger *logrus.Logger) error {
	w, err := localws.Setup(*workspaceRoot, *setupUpstream, *setupAccount)
	if err != nil {
		return err
	}
	logger.Infof("workspace ready at %s for account %s", w.Root, *setupAccount)
	return nil
}

// dial connects to the workspace's configured upstream, completes the
// client side of the challenge/accept handshake (§4.3), and returns
// the open connection. It does not read the server's vault_uuid.
func dial(memberID, privateKeyPath, upstreamAddr string) (*wire.Conn, error) {
	nc, err := net.Dial("tcp", upstreamAddr)
	if err != nil {
		return nil, err
	}
	c := wire.New(nc)
	verified, err := auth.AcceptChallenge(c, memberID, privateKeyPath)
	if err != nil {
		c.Close()
		return nil, err
	}
	if !verified {
		c.Close()
		return nil, fmt.Errorf("authentication refused by %s", upstreamAddr)
	}
	return c, nil
}

func runConnect(logger *logrus.Logger) error {
	w := localws.Open(*workspaceRoot)
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}

	c, err := dial(cfg.UsingAccount, *connectKeyPath, cfg.UpstreamAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	logger.Infof("authenticated to %s as %s", cfg.UpstreamAddr, cfg.UsingAccount)
	return nil
}

type invocation struct {
	ActionName     string `msgpack:"action_name"`
	ActionArgsJSON string `msgpack:"action_args_json"`
}

type outcome struct {
	OK         bool   `msgpack:"ok"`
	ResultJSON string `msgpack:"result_json"`
	Err        string `msgpack:"err"`
}

func runInvoke(logger *logrus.Logger) error {
	w := localws.Open(*workspaceRoot)
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}

	var args any
	if err := json.Unmarshal([]byte(*invokeArgs), &args); err != nil {
		return fmt.Errorf("invalid args json: %w", err)
	}

	c, err := dial(cfg.UsingAccount, *invokeKeyPath, cfg.UpstreamAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := wire.Write(c, invocation{ActionName: *invokeName, ActionArgsJSON: *invokeArgs}); err != nil {
		return err
	}
	result, err := wire.Read[outcome](c)
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("action %s failed: %s", *invokeName, result.Err)
	}
	logger.Infof("%s -> %s", *invokeName, result.ResultJSON)
	return nil
}
