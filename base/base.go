package base

// System provides the device services the association layer depends on but
// does not implement itself: the fixed system title, the random source for
// challenge generation and the low level security password store.
//
// A System implementation must be safe for concurrent use when associations
// are driven from multiple goroutines.
type System interface {
	// SystemTitle returns the device identifier, SystemTitleSize bytes long.
	SystemTitle() []byte
	// RandomByte returns one byte from the random source.
	RandomByte() byte
	// CheckPassword compares password against the credential configured for
	// the given destination service access point.
	CheckPassword(sap byte, password []byte) bool
}
