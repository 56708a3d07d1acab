package domain

// Mode is the currency rebalancing posture.
type Mode int

const (
	ModeIdle Mode = iota
	ModeBuying
	ModeSelling
)

func (m Mode) String() string {
	switch m {
	case ModeBuying:
		return "buying"
	case ModeSelling:
		return "selling"
	default:
		return "idle"
	}
}

// ControllerState is the rebalancing controller's published state.
// TargetQuantity is 0 whenever Mode is ModeIdle.
type ControllerState struct {
	Mode               Mode   `json:"mode"`
	TargetQuantity     int    `json:"target_quantity"`
	ReservedInstanceID string `json:"reserved_instance_id,omitempty"`
}

// PermitsBuying reports whether acquiring qty keys is currently allowed.
func (s ControllerState) PermitsBuying(qty int) bool {
	return s.Mode == ModeBuying && qty <= s.TargetQuantity
}

// PermitsSelling reports whether disposing of qty keys is currently allowed.
func (s ControllerState) PermitsSelling(qty int) bool {
	return s.Mode == ModeSelling && qty <= s.TargetQuantity
}
