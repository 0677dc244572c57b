package kubo

// AddResponse is the JSON object returned by /api/v0/add for the single
// file we upload (no wrap-with-directory, so exactly one object).
type AddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// PinLsResponse is the JSON object returned by /api/v0/pin/ls.
type PinLsResponse struct {
	Keys map[string]struct {
		Type string `json:"Type"`
	} `json:"Keys"`
}

// PinAddResponse is returned by /api/v0/pin/add.
type PinAddResponse struct {
	Pins []string `json:"Pins"`
}

// PinRmResponse is returned by /api/v0/pin/rm.
type PinRmResponse struct {
	Pins []string `json:"Pins"`
}

// IDResponse is returned by /api/v0/id, identifying our own storage node.
type IDResponse struct {
	ID        string   `json:"ID"`
	Addresses []string `json:"Addresses"`
}

// FindProvsResponse is one event streamed back by /api/v0/routing/findprovs.
type FindProvsResponse struct {
	Type      int `json:"Type"`
	Responses []struct {
		ID    string   `json:"ID"`
		Addrs []string `json:"Addrs"`
	} `json:"Responses"`
}
