package imc

import "github.com/dtnx/bpd/cmn"

// Configure wires an Overlay's persistence layer from cfg: opens the
// buntdb-backed Store (if a path is configured) and runs the startup
// clear-database reconciliation for each of the three databases (§4.8,
// §9's resolved Open Question: write-marker-then-clear).
func Configure(o *Overlay, cfg *cmn.Config) error {
	if cfg.IMC.DBPath == "" {
		return nil
	}
	store, err := OpenStore(cfg.IMC.DBPath)
	if err != nil {
		return err
	}
	o.store = store

	if err := store.ReconcileClear("region", cfg.IMC.ClearRegionID, o.Regions.Clear); err != nil {
		return err
	}
	if err := store.ReconcileClear("group", cfg.IMC.ClearGroupID, o.Groups.Clear); err != nil {
		return err
	}
	if err := store.ReconcileClear("manual_join", cfg.IMC.ClearJoinID, o.Joins.Clear); err != nil {
		return err
	}

	if cfg.IMC.HomeRegion != 0 {
		o.SetHomeRegion(cfg.IMC.HomeRegion, cfg.IMC.IsRouter)
	}
	return nil
}
