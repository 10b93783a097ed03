//go:build !nojsonsimd

package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

func init() {
	// Sonic compiles codecs lazily. Pretouching the shared-document types at
	// startup avoids first-hit latency spikes inside the CAS loops, where a
	// slow marshal widens the conflict window.
	//
	// Errors are best-effort; we fall back to normal behavior if pretouch fails.
	_ = sonic.Pretouch(reflect.TypeOf(registryDocument{}))
	_ = sonic.Pretouch(reflect.TypeOf(challengeCache{}))
	_ = sonic.Pretouch(reflect.TypeOf(solutionsStats{}))
	_ = sonic.Pretouch(reflect.TypeOf(addressSolutions{}))
	_ = sonic.Pretouch(reflect.TypeOf(minerResult{}))
	_ = sonic.Pretouch(reflect.TypeOf(challengeResponse{}))
}
