package tool

// Backend is the persistence surface the built-in tools need.
type Backend interface {
	TicketCreator
	FollowupScheduler
}

// NewDefaultRegistry registers search_kb, create_ticket and
// schedule_followup, in that order.
func NewDefaultRegistry(kb Searcher, backend Backend) *Registry {
	r := NewRegistry()
	r.Register(&SearchKBTool{KB: kb})
	r.Register(&CreateTicketTool{Store: backend})
	r.Register(&ScheduleFollowupTool{Store: backend})
	return r
}
