package host

import "github.com/sirupsen/logrus"

// log is the package-level logger. The teacher's go.mod already named
// logrus as a dependency (unwired there, falling back to stdlib log); this
// host wires it with fields for error kind, CID and event code context
// instead.
var log = logrus.StandardLogger()

// SetLogger replaces the logger used by the Adapter's event loop. The
// channel manager and GATT adapter in the internal packages do not log.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}
