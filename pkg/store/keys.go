package store

import "fmt"

// Keys reproduces the "vlab:" namespace from the original Redis schema
// (vlabcommon/vlabredis.py) as typed helpers, so every caller builds the
// same key shapes instead of hand-formatting strings.
type Keys struct{}

// K is the package-level key builder.
var K Keys

func (Keys) BoardClasses() string { return "vlab:boardclasses" }
func (Keys) KnownBoards() string  { return "vlab:knownboards" }
func (Keys) Users() string        { return "vlab:users" }
func (Keys) PortCounter() string  { return "vlab:port" }

func (Keys) ClassBoards(class string) string     { return fmt.Sprintf("vlab:boardclass:%s:boards", class) }
func (Keys) ClassAvailable(class string) string {
	return fmt.Sprintf("vlab:boardclass:%s:availableboards", class)
}
func (Keys) ClassUnlocked(class string) string {
	return fmt.Sprintf("vlab:boardclass:%s:unlockedboards", class)
}
func (Keys) ClassLocking(class string) string {
	return fmt.Sprintf("vlab:boardclass:%s:locking", class)
}

func (Keys) KnownBoardClass(serial string) string { return fmt.Sprintf("vlab:knownboard:%s:class", serial) }
func (Keys) KnownBoardType(serial string) string  { return fmt.Sprintf("vlab:knownboard:%s:type", serial) }
func (Keys) KnownBoardReset(serial string) string { return fmt.Sprintf("vlab:knownboard:%s:reset", serial) }

func (Keys) BoardServer(serial string) string { return fmt.Sprintf("vlab:board:%s:server", serial) }
func (Keys) BoardPort(serial string) string   { return fmt.Sprintf("vlab:board:%s:port", serial) }
func (Keys) BoardUser(serial string) string   { return fmt.Sprintf("vlab:board:%s:user", serial) }

func (Keys) LockUser(serial string) string { return fmt.Sprintf("vlab:board:%s:lock:username", serial) }
func (Keys) LockTime(serial string) string { return fmt.Sprintf("vlab:board:%s:lock:time", serial) }

func (Keys) SessionUser(serial string) string {
	return fmt.Sprintf("vlab:board:%s:session:username", serial)
}
func (Keys) SessionStart(serial string) string {
	return fmt.Sprintf("vlab:board:%s:session:starttime", serial)
}
func (Keys) SessionPing(serial string) string {
	return fmt.Sprintf("vlab:board:%s:session:pingtime", serial)
}

func (Keys) HWTestStatus(serial string) string {
	return fmt.Sprintf("vlab:board:%s:hwtest:status", serial)
}
func (Keys) HWTestTime(serial string) string {
	return fmt.Sprintf("vlab:board:%s:hwtest:time", serial)
}
func (Keys) HWTestMessage(serial string) string {
	return fmt.Sprintf("vlab:board:%s:hwtest:message", serial)
}
func (Keys) HWTestTesting(serial string) string {
	return fmt.Sprintf("vlab:board:%s:hwtest:testing", serial)
}

func (Keys) HWTestRunning() string { return "vlab:hwtest:running" }
func (Keys) HWTestTrigger() string { return "vlab:hwtest:trigger" }
func (Keys) ConfigReload() string  { return "vlab:config:reload" }

func (Keys) UserOverlord(user string) string { return fmt.Sprintf("vlab:user:%s:overlord", user) }
func (Keys) UserAllowedClasses(user string) string {
	return fmt.Sprintf("vlab:user:%s:allowedboards", user)
}
