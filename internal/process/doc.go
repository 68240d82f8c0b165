// Package process runs external helper programs such as the encoder.
//
// A Process is started once and then either exits on its own (Wait) or is
// stopped: SIGINT to the process group, then SIGKILL once the graceful
// timeout expires. Stdout and stderr are streamed line by line into a logger,
// optionally through a LogParser that maps tool-specific prefixes to levels.
//
//	p := process.New("encoder-0", cmdline, logger,
//	    process.WithLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel))
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	code, err := p.Wait(ctx)
package process
