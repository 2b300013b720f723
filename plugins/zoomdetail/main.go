// Command zoomdetail is an extension module, built with
//
//	go build -buildmode=plugin -o zoomdetail.so ./plugins/zoomdetail
//
// It keeps terrain details visible at every zoom level.
package main

import (
	"bytes"
	_ "embed"

	"github.com/BertoldVdb/patchcoord/loader"
	"github.com/BertoldVdb/patchcoord/patch"
)

//go:embed zoomdetail.yaml
var planData []byte

/* Another module that already owns the zoom code */
const conflictingModule = "prax.so"

func PatchInit(host loader.Host, siblings []loader.Module) {
	for _, m := range siblings {
		if m.Name == conflictingModule {
			host.Log(1, "%s already loaded, not patching", m.Name)
			return
		}
	}

	plan, err := patch.DecodePlan(bytes.NewReader(planData))
	if err != nil {
		host.Log(0, "%v", err)
		return
	}

	if _, err := host.ApplyPlan(plan, nil); err != nil {
		host.Log(0, "%v", err)
	}
}

func main() {}
