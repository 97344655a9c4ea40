// Code generated by dependgen — DO NOT EDIT.
package gattserver

import "github.com/srgg/testify/depend"

var ServerTestSuiteTestRegistry = map[string]func(any){
	"TestAttributeTable": func(s any) { s.(*ServerTestSuite).TestAttributeTable() },
	"TestReads": func(s any) { s.(*ServerTestSuite).TestReads() },
	"TestStartTimeWrite": func(s any) { s.(*ServerTestSuite).TestStartTimeWrite() },
	"TestMeasurementSubscription": func(s any) { s.(*ServerTestSuite).TestMeasurementSubscription() },
	"TestControlPoint": func(s any) { s.(*ServerTestSuite).TestControlPoint() },
	"TestMeasurementsContinueWhileIndicationUnconfirmed": func(s any) { s.(*ServerTestSuite).TestMeasurementsContinueWhileIndicationUnconfirmed() },
	"TestIndicationBacklog": func(s any) { s.(*ServerTestSuite).TestIndicationBacklog() },
	"TestIndicationConfirmFailureCounted": func(s any) { s.(*ServerTestSuite).TestIndicationConfirmFailureCounted() },
	"TestControlPointWithoutIndications": func(s any) { s.(*ServerTestSuite).TestControlPointWithoutIndications() },
	"TestDisconnect": func(s any) { s.(*ServerTestSuite).TestDisconnect() },
	"TestTransportErrors": func(s any) { s.(*ServerTestSuite).TestTransportErrors() },
}

var ServerTestSuiteTestOrder = []string{
	"TestAttributeTable",
	"TestReads",
	"TestStartTimeWrite",
	"TestMeasurementSubscription",
	"TestControlPoint",
	"TestMeasurementsContinueWhileIndicationUnconfirmed",
	"TestIndicationBacklog",
	"TestIndicationConfirmFailureCounted",
	"TestControlPointWithoutIndications",
	"TestDisconnect",
	"TestTransportErrors",
}

var ServerTestSuiteDependencies = depend.Depends(func(s any) *depend.Dep {
	dep := new(depend.Dep)
	return dep
})

// GeneratedDependConfig returns the dependency configuration for ServerTestSuite.
// This method allows ServerTestSuite to be used with depend.RunSuite(t, suite).
// DO NOT implement this method manually - it is auto-generated.
func (s *ServerTestSuite) GeneratedDependConfig() *depend.SuiteConfig {
	return &depend.SuiteConfig{
		Registry: ServerTestSuiteTestRegistry,
		Order:    ServerTestSuiteTestOrder,
		Deps:     ServerTestSuiteDependencies,
	}
}
