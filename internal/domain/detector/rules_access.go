package detector

import (
	"fmt"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
	"github.com/Macnelson9/Soroban-Registry/internal/domain/scans"
)

func init() {
	register(ruleDef{
		id:          "missing-auth-check",
		category:    "access-control",
		severity:    scans.SeverityHigh,
		weight:      30,
		description: "exported function reaches a storage-write host function without reaching an authorization host function",
		listParams: map[string]string{
			"write_imports": "put_contract_data,put,del_contract_data,del",
			"auth_imports":  "require_auth,require_auth_for_args",
		},
		eval: evalMissingAuth,
	})
}

func evalMissingAuth(v *View, r checklist.Rule, m *Meter) ([]scans.Finding, error) {
	writes := nameSet(listParam(r, "write_imports"))
	auths := nameSet(listParam(r, "auth_imports"))
	mod := v.Module
	imported := uint32(mod.NumImportedFuncs())

	// Resolve host function indexes once.
	writeIdx := map[uint32]string{}
	authIdx := map[uint32]bool{}
	for idx := uint32(0); idx < imported; idx++ {
		imp, _ := mod.FuncImport(idx)
		if writes[imp.Name] {
			writeIdx[idx] = imp.Name
		}
		if auths[imp.Name] {
			authIdx[idx] = true
		}
	}
	if len(writeIdx) == 0 {
		return nil, nil
	}

	var out []scans.Finding
	for _, e := range v.Exported() {
		if e.Index < imported {
			continue
		}
		reach, err := v.Reachable(e.Index, m)
		if err != nil {
			return nil, err
		}
		wrote := ""
		authed := false
		for idx := uint32(0); idx < imported; idx++ {
			if !reach[idx] {
				continue
			}
			if name, ok := writeIdx[idx]; ok && wrote == "" {
				wrote = name
			}
			if authIdx[idx] {
				authed = true
			}
		}
		if wrote == "" || authed {
			continue
		}
		fn, _ := mod.Func(e.Index)
		out = append(out, scans.Finding{
			Location:   scans.Location{Function: e.Name, Offset: fn.Offset, Symbol: e.Name},
			Message:    fmt.Sprintf("exported function writes storage via %s without requiring authorization", wrote),
			Confidence: 0.7,
		})
	}
	return out, nil
}

func nameSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
