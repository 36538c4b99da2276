// Command jvcsd runs the JVCS vault server: it accepts TCP
// connections, authenticates each one via the challenge/accept
// protocol of §4.3, and dispatches action invocations against a single
// on-disk vault (§3, §4.8).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jvcs/jvcs/internal/action"
	"github.com/jvcs/jvcs/internal/actions"
	"github.com/jvcs/jvcs/internal/auth"
	"github.com/jvcs/jvcs/internal/sheet"
	"github.com/jvcs/jvcs/internal/vault"
	"github.com/jvcs/jvcs/internal/wire"
)

// DefaultPort is the wire protocol's default listening port (§6).
const DefaultPort = 25331

var (
	vaultRoot = kingpin.Flag(
		"vault-root",
		"Vault root directory to serve.",
	).Default(".").Short('r').String()
	bindIP = kingpin.Flag(
		"bind",
		"IP address to bind to (overrides vault.toml).",
	).String()
	port = kingpin.Flag(
		"port",
		"TCP port to listen on (overrides vault.toml).",
	).Int()
	initVault = kingpin.Flag(
		"init",
		"Initialize a fresh vault at vault-root if none exists.",
	).Bool()
	vaultName = kingpin.Flag(
		"name",
		"Vault name to record when initializing.",
	).Default("vault").String()
	debug = kingpin.Flag(
		"debug",
		"Enable debug-level logging.",
	).Bool()
)

func main() {
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version("jvcsd 0.1.0")
	kingpin.CommandLine.Help = "Serves a JVCS vault over the wire protocol.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	v, err := openOrInitVault(logger)
	if err != nil {
		logger.Errorf("error opening vault: %v", err)
		os.Exit(1)
	}
	defer v.Close()

	listenIP := v.Config.ServerConfig.BindIP
	if *bindIP != "" {
		listenIP = *bindIP
	}
	listenPort := v.Config.ServerConfig.Port
	if *port != 0 {
		listenPort = *port
	}
	if listenPort == 0 {
		listenPort = DefaultPort
	}

	registry := buildRegistry(v)
	addr := fmt.Sprintf("%s:%d", listenIP, listenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Errorf("error listening on %s: %v", addr, err)
		os.Exit(1)
	}
	logger.Infof("jvcsd serving vault %s (%s) on %s", v.Root, v.Config.VaultUUID, addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Errorf("accept error: %v", err)
			continue
		}
		go serveConnection(logger, v, registry, conn)
	}
}

func openOrInitVault(logger *logrus.Logger) (*vault.Vault, error) {
	if *initVault {
		return vault.Init(*vaultRoot, *vaultName, vault.ServerConfig{
			BindIP:       "0.0.0.0",
			Port:         DefaultPort,
			AuthStrength: 1,
		})
	}
	return vault.Open(*vaultRoot)
}

// invocation is the single msgpack frame an action invocation opens
// with (§4.8, §6): {action_name, action_args_json}.
type invocation struct {
	ActionName     string `msgpack:"action_name"`
	ActionArgsJSON string `msgpack:"action_args_json"`
}

// outcome is the frame the server replies with after a dispatched
// action body returns.
type outcome struct {
	OK         bool   `msgpack:"ok"`
	ResultJSON string `msgpack:"result_json"`
	Err        string `msgpack:"err"`
}

func serveConnection(logger *logrus.Logger, v *vault.Vault, registry *action.Registry, netConn net.Conn) {
	defer netConn.Close()
	c := wire.New(netConn)

	result, err := auth.Challenge(c, v.KeyDir())
	if err != nil {
		logger.Warnf("challenge error from %s: %v", netConn.RemoteAddr(), err)
		return
	}
	if !result.Verified {
		logger.Warnf("authentication refused for %s", netConn.RemoteAddr())
		return
	}
	memberInfo := action.MemberInfo{ID: result.KeyID, IsHostMode: result.KeyID == vault.HostMemberID}

	for {
		inv, err := wire.Read[invocation](c)
		if err != nil {
			return // connection closed or framing error: fatal per §7
		}
		ctx := action.NewContext(action.RoleRemote, inv.ActionName, inv.ActionArgsJSON, c)
		ctx.Put(memberInfo)
		ctx.Put(v)

		resultJSON, actionErr := registry.ProcessJSON(ctx, inv.ActionName, inv.ActionArgsJSON)
		reply := outcome{OK: actionErr == nil, ResultJSON: resultJSON}
		if actionErr != nil {
			reply.Err = actionErr.Error()
		}
		if err := wire.Write(c, reply); err != nil {
			return
		}
	}
}

func buildRegistry(v *vault.Vault) *action.Registry {
	r := action.NewRegistry()

	action.Register(r, action.Action[makeSheetArgs, makeSheetRet]{
		Name: "make_sheet",
		Body: func(ctx *action.Context, args makeSheetArgs) (makeSheetRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return makeSheetRet{}, err
			}
			s, err := actions.MakeSheet(v, args.Name, member.IsHostMode, member.ID)
			if err != nil {
				return makeSheetRet{}, err
			}
			return makeSheetRet{Name: s.Name, Holder: s.Holder}, nil
		},
	})

	action.Register(r, action.Action[dropSheetArgs, dropSheetRet]{
		Name: "drop_sheet",
		Body: func(ctx *action.Context, args dropSheetArgs) (dropSheetRet, error) {
			if _, err := action.AuthMember(ctx); err != nil {
				return dropSheetRet{}, err
			}
			if err := actions.DropSheet(v, args.Name, args.UsingSheet); err != nil {
				return dropSheetRet{}, err
			}
			return dropSheetRet{OK: true}, nil
		},
	})

	action.Register(r, action.Action[shareMappingArgs, shareMappingRet]{
		Name: "share_mapping",
		Body: func(ctx *action.Context, args shareMappingArgs) (shareMappingRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return shareMappingRet{}, err
			}
			source, err := v.Sheets.Get(args.SourceSheet)
			if err != nil {
				return shareMappingRet{}, err
			}
			shareID, err := actions.ShareMapping(v, source, args.TargetSheet, args.Paths, member.ID, args.Description)
			if err != nil {
				return shareMappingRet{}, err
			}
			return shareMappingRet{ShareID: shareID}, nil
		},
	})

	action.Register(r, action.Action[mergeShareArgs, mergeShareRet]{
		Name: "merge_share_mapping",
		Body: func(ctx *action.Context, args mergeShareArgs) (mergeShareRet, error) {
			if _, err := action.AuthMember(ctx); err != nil {
				return mergeShareRet{}, err
			}
			target, err := v.Sheets.Get(args.TargetSheet)
			if err != nil {
				return mergeShareRet{}, err
			}
			result, err := actions.MergeShareMapping(v, target, args.ShareID, args.TargetSheet, sheet.MergeMode(args.Mode))
			if err != nil {
				return mergeShareRet{}, err
			}
			return mergeShareRet{Applied: result.Applied, ShareFileRemoved: result.ShareFileRemoved}, nil
		},
	})

	action.Register(r, action.Action[changeEditRightArgs, actions.ChangeEditRightResult]{
		Name: "change_virtual_file_edit_right",
		Body: func(ctx *action.Context, args changeEditRightArgs) (actions.ChangeEditRightResult, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return actions.ChangeEditRightResult{}, err
			}
			s, err := v.Sheets.Get(args.SheetName)
			if err != nil {
				return actions.ChangeEditRightResult{}, err
			}
			return actions.ChangeVirtualFileEditRight(v.VF, s, member.ID, args.Requests)
		},
	})

	action.Register(r, action.Action[createOneArgs, createOneRet]{
		Name: "create_one",
		Body: func(ctx *action.Context, args createOneArgs) (createOneRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return createOneRet{}, err
			}
			stagedPath, err := v.VF.TempPath()
			if err != nil {
				return createOneRet{}, err
			}
			if err := ctx.Instance.ReadFile(stagedPath); err != nil {
				return createOneRet{}, err
			}
			vfID, meta, err := actions.CreateOne(v.VF, v.Sheets, args.SheetName, args.Path, member.ID, stagedPath)
			if err != nil {
				return createOneRet{}, err
			}
			return createOneRet{VFID: vfID, Version: meta.CurrentVersion}, nil
		},
	})

	action.Register(r, action.Action[verifyUpdateArgs, verifyUpdateRet]{
		Name: "verify_update",
		Body: func(ctx *action.Context, args verifyUpdateArgs) (verifyUpdateRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return verifyUpdateRet{}, err
			}
			hint := actions.VersionHint{NextVersion: args.NextVersion, Description: args.Description}
			reason, err := actions.VerifyUpdate(v.VF, v.Sheets, args.SheetName, args.Path, member.ID, args.ClientVersion, hint)
			if err != nil {
				return verifyUpdateRet{}, err
			}
			return verifyUpdateRet{Reason: int(reason)}, nil
		},
	})

	action.Register(r, action.Action[updateOneArgs, updateOneRet]{
		Name: "update_one",
		Body: func(ctx *action.Context, args updateOneArgs) (updateOneRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return updateOneRet{}, err
			}
			stagedPath, err := v.VF.TempPath()
			if err != nil {
				return updateOneRet{}, err
			}
			if err := ctx.Instance.ReadFile(stagedPath); err != nil {
				return updateOneRet{}, err
			}
			meta, err := actions.UpdateOne(v.VF, v.Sheets, args.SheetName, args.Path, member.ID, args.NewVersion, args.Description, stagedPath)
			if err != nil {
				return updateOneRet{}, err
			}
			return updateOneRet{Version: meta.CurrentVersion}, nil
		},
	})

	action.Register(r, action.Action[syncLookupArgs, syncLookupRet]{
		Name: "sync_lookup",
		Body: func(ctx *action.Context, args syncLookupArgs) (syncLookupRet, error) {
			if _, err := action.AuthMember(ctx); err != nil {
				return syncLookupRet{}, err
			}
			vfID, version, desc, err := actions.SyncLookup(v.VF, v.Sheets, args.SheetName, args.Path)
			if err != nil {
				return syncLookupRet{}, err
			}
			if err := ctx.Instance.WriteFile(v.VF.VersionPath(vfID, version)); err != nil {
				return syncLookupRet{}, err
			}
			return syncLookupRet{
				VFID:        vfID,
				Version:     version,
				CreatorID:   desc.CreatorID,
				Description: desc.Description,
			}, nil
		},
	})

	action.Register(r, action.Action[struct{}, updateToLatestInfoRet]{
		Name: "update_to_latest_info",
		Body: func(ctx *action.Context, _ struct{}) (updateToLatestInfoRet, error) {
			member, err := action.AuthMember(ctx)
			if err != nil {
				return updateToLatestInfoRet{}, err
			}

			info, err := actions.BuildLatestInfo(v, member.ID)
			if err != nil {
				return updateToLatestInfoRet{}, err
			}
			if err := wire.WriteLargeMsgpack(ctx.Instance, info, 512); err != nil {
				return updateToLatestInfoRet{}, err
			}

			reported, err := wire.ReadLargeMsgpack[[]actions.SheetVersion](ctx.Instance, 1024)
			if err != nil {
				return updateToLatestInfoRet{}, err
			}
			for _, stale := range actions.StaleSheets(v, member.ID, reported) {
				if err := wire.Write(ctx.Instance, true); err != nil {
					return updateToLatestInfoRet{}, err
				}
				if err := wire.WriteLargeMsgpack(ctx.Instance, stale, 1024); err != nil {
					return updateToLatestInfoRet{}, err
				}
			}
			if err := wire.Write(ctx.Instance, false); err != nil {
				return updateToLatestInfoRet{}, err
			}

			vfIDs, err := wire.ReadLargeMsgpack[[]string](ctx.Instance, 1024)
			if err != nil {
				return updateToLatestInfoRet{}, err
			}
			status := actions.HolderStatus(v, vfIDs)
			if err := wire.WriteLargeMsgpack(ctx.Instance, status, 1024); err != nil {
				return updateToLatestInfoRet{}, err
			}

			return updateToLatestInfoRet{OK: true}, nil
		},
	})

	return r
}

type makeSheetArgs struct {
	Name string `json:"name"`
}

type makeSheetRet struct {
	Name   string `json:"name"`
	Holder string `json:"holder"`
}

type dropSheetArgs struct {
	Name       string `json:"name"`
	UsingSheet bool   `json:"using_sheet"`
}

type dropSheetRet struct {
	OK bool `json:"ok"`
}

type shareMappingArgs struct {
	SourceSheet string   `json:"source_sheet"`
	TargetSheet string   `json:"target_sheet"`
	Paths       []string `json:"paths"`
	Description string   `json:"description"`
}

type shareMappingRet struct {
	ShareID string `json:"share_id"`
}

type mergeShareArgs struct {
	TargetSheet string `json:"target_sheet"`
	ShareID     string `json:"share_id"`
	Mode        int    `json:"mode"`
}

type mergeShareRet struct {
	Applied          bool `json:"applied"`
	ShareFileRemoved bool `json:"share_file_removed"`
}

type changeEditRightArgs struct {
	SheetName string                   `json:"sheet_name"`
	Requests  []actions.EditRightRequest `json:"requests"`
}

// createOneArgs/Ret back the create_one action (§4.9 "Create
// subphase"): the client streams the file body immediately after
// sending the invocation frame, before reading the outcome.
type createOneArgs struct {
	SheetName string `json:"sheet_name"`
	Path      string `json:"path"`
}

type createOneRet struct {
	VFID    string `json:"vf_id"`
	Version string `json:"version"`
}

// verifyUpdateArgs/Ret back verify_update, the precheck half of the
// "Update subphase" (§4.9) that runs before any file is streamed.
type verifyUpdateArgs struct {
	SheetName     string `json:"sheet_name"`
	Path          string `json:"path"`
	ClientVersion string `json:"client_version"`
	NextVersion   string `json:"next_version"`
	Description   string `json:"description"`
}

type verifyUpdateRet struct {
	Reason int `json:"reason"`
}

// updateOneArgs/Ret back update_one, the apply half of the "Update
// subphase": called only after verify_update reports VerifyOK, with
// the file body streamed the same way create_one's is.
type updateOneArgs struct {
	SheetName   string `json:"sheet_name"`
	Path        string `json:"path"`
	NewVersion  string `json:"new_version"`
	Description string `json:"description"`
}

type updateOneRet struct {
	Version string `json:"version"`
}

// syncLookupArgs/Ret back sync_lookup (§4.9 "Sync subphase"): the
// server streams the file body after resolving the mapping and before
// the outcome frame; the client must read it in that order.
type syncLookupArgs struct {
	SheetName string `json:"sheet_name"`
	Path      string `json:"path"`
}

type syncLookupRet struct {
	VFID        string `json:"vf_id"`
	Version     string `json:"version"`
	CreatorID   string `json:"creator_id"`
	Description string `json:"description"`
}

// updateToLatestInfoRet is update_to_latest_info's final outcome
// (§4.10); the three exchanges themselves run directly over
// ctx.Instance inside the action body, between the invocation and this
// reply.
type updateToLatestInfoRet struct {
	OK bool `json:"ok"`
}
