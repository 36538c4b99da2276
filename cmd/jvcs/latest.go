package main

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jvcs/jvcs/internal/actions"
	"github.com/jvcs/jvcs/internal/localstate"
	"github.com/jvcs/jvcs/internal/localws"
	"github.com/jvcs/jvcs/internal/wire"
)

// runUpdateToLatestInfo drives the client side of §4.10's three wire
// exchanges inside one update_to_latest_info invocation, persisting
// each result into the workspace's account caches.
func runUpdateToLatestInfo(logger *logrus.Logger) error {
	w := localws.Open(*workspaceRoot)
	cfg, err := w.LoadConfig()
	if err != nil {
		return err
	}
	account := cfg.UsingAccount

	c, err := dial(account, *latestKeyPath, cfg.UpstreamAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	argsJSON, err := json.Marshal(struct{}{})
	if err != nil {
		return err
	}
	if err := wire.Write(c, invocation{ActionName: "update_to_latest_info", ActionArgsJSON: string(argsJSON)}); err != nil {
		return err
	}

	// Exchange 1: receive the roster of owned/visible sheets.
	info, err := wire.ReadLargeMsgpack[localws.LatestInfo](c, 512)
	if err != nil {
		return err
	}
	if err := w.SaveLatestInfo(account, info); err != nil {
		return err
	}

	// Exchange 2: report each owned sheet's cached write_count (-1 if
	// never synced), then receive full SheetData for every stale one.
	reported := make([]actions.SheetVersion, 0, len(info.MySheets))
	for _, name := range info.MySheets {
		writeCount := -1
		if cached, err := w.LoadCachedSheet(name); err == nil && cached.Name != "" {
			writeCount = cached.WriteCount
		}
		reported = append(reported, actions.SheetVersion{SheetName: name, WriteCount: writeCount})
	}
	if err := wire.WriteLargeMsgpack(c, reported, 512); err != nil {
		return err
	}
	var refreshed []string
	for {
		more, err := wire.Read[bool](c)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		stale, err := wire.ReadLargeMsgpack[actions.StaleSheet](c, 512)
		if err != nil {
			return err
		}
		if err := w.SaveCachedSheet(stale.SheetName, stale.Data); err != nil {
			return err
		}
		refreshed = append(refreshed, stale.SheetName)
	}

	// Fold any server-side renames into each owned sheet's LocalSheet
	// now that its cached copy is current.
	for _, name := range refreshed {
		local, err := w.LoadLocalSheet(account, name)
		if err != nil {
			return err
		}
		cached, err := w.LoadCachedSheet(name)
		if err != nil {
			return err
		}
		reconciled := actions.ReconcileCachedSheetRenames(local, cached)
		if err := w.SaveLocalSheet(account, name, reconciled); err != nil {
			return err
		}
	}

	// Exchange 3: ask for current hold status of every vf_id referenced
	// by the client's cached copies of its own sheets.
	var vfIDs []string
	for _, name := range info.MySheets {
		cached, err := w.LoadCachedSheet(name)
		if err != nil {
			continue
		}
		for vfID := range cached.IDMapping {
			vfIDs = append(vfIDs, vfID)
		}
	}
	if err := wire.WriteLargeMsgpack(c, vfIDs, 512); err != nil {
		return err
	}
	holders, err := wire.ReadLargeMsgpack[map[string]string](c, 512)
	if err != nil {
		return err
	}
	var held []string
	for vfID, holder := range holders {
		if holder == account {
			held = append(held, vfID)
		}
	}
	if err := w.SaveHeldSet(account, localstate.NewHeldSet(held)); err != nil {
		return err
	}

	out, err := wire.Read[outcome](c)
	if err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("update_to_latest_info: %s", out.Err)
	}

	logger.Infof("latest info refreshed: %d owned, %d visible, %d stale sheets updated", len(info.MySheets), len(info.OtherSheets), len(refreshed))
	return nil
}
