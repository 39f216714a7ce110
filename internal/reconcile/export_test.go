package reconcile

func SetOnPass(p *Processor, fn func([]Result, error)) {
	p.onPass = fn
}
