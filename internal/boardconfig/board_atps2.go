//go:build board_atps2

package boardconfig

func init() {
	Current = Identity{
		Make:     "ibm",
		Model:    "model-m-1391401",
		Protocol: ProtocolATPS2,
		Codeset:  "set2",
		Layout:   "ansi104",
	}
}
