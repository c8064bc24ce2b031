package chat

// PeerID identifies a remote endpoint. Address is the identity; Name is
// advisory and may be empty.
type PeerID struct {
	Name    string
	Address string
}

// Same reports whether p and other name the same endpoint.
func (p PeerID) Same(other PeerID) bool {
	return p.Address == other.Address
}

func (p PeerID) String() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name + " (" + p.Address + ")"
}
