package orchestratornode

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	out := GraphOutput{
		Reply:      in.Reply,
		Buttons:    in.Buttons,
		Executions: in.Executions,
		Duplicate:  in.Duplicate,
		Silent:     in.Silent,
		Handoff:    in.Handoff,
	}
	if in.Silent || in.Duplicate {
		out.Reply = ""
		out.Buttons = nil
	}
	if in.Session == nil {
		return out, nil
	}
	out.State = in.Session.State
	out.Thread = in.Session.Thread
	out.HandoffReason = in.Session.HandoffReason
	if in.Staged != nil {
		out.Confirmation = &ConfirmationView{
			Token:     in.Staged.Token,
			Warning:   in.Staged.Warning,
			ExpiresAt: in.Staged.ExpiresAt,
		}
	}
	return out, nil
}
