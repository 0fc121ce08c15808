package dto

type ShareResponse struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	Priority  int    `json:"priority"`
	Online    bool   `json:"online"`
	Total     int64  `json:"total_bytes"`
	Used      int64  `json:"used_bytes"`
	Free      int64  `json:"free_bytes"`
	FreeHuman string `json:"free"`
	Error     string `json:"error,omitempty"`
}

type ShareListResponse struct {
	Items []ShareResponse `json:"items"`
}
