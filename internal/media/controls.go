package media

// Controls applies host media commands to the local pumps. Either pump may
// be nil.
type Controls struct {
	Audio  *Pump
	Camera *Pump
}

func (c Controls) SetAudio(on bool) { toggle(c.Audio, on) }

func (c Controls) SetCamera(on bool) { toggle(c.Camera, on) }

func toggle(p *Pump, on bool) {
	if p == nil {
		return
	}
	if on {
		p.Unmute()
	} else {
		p.Mute()
	}
}
