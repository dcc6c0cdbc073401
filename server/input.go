package server

// Input 客户端的一次移动意图，只在 Tick 中生效
type Input struct {
	PlayerID PlayerID
	DX       float64
	DY       float64
}
