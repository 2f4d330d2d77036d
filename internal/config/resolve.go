package config

// Overrides adjust a loaded config; nil fields leave it unchanged
type Overrides struct {
	Network       *string
	ModelPath     *string
	ConfThreshold *float32
	NMSThreshold  *float32
	PreNMSTopK    *int
	PostNMSTopK   *int
	VisThreshold  *float32
	ScoreMode     *string
}

// Resolve builds the effective config: the file at path (or the preset of
// the overriding network when path is empty), then the environment, then
// the overrides. Switching network also switches to that preset's model
// unless a model path is given.
func Resolve(path string, o Overrides) (Config, error) {
	var (
		c   Config
		err error
	)
	switch {
	case path != "":
		c, err = Load(path)
	case o.Network != nil:
		c, err = ForNetwork(*o.Network)
	default:
		c = Default()
	}
	if err != nil {
		return Config{}, err
	}

	if o.Network != nil && *o.Network != c.Network {
		preset, err := ForNetwork(*o.Network)
		if err != nil {
			return Config{}, err
		}
		c.Network = preset.Network
		c.Model.Path = preset.Model.Path
	}

	c.ApplyEnv()

	if o.ModelPath != nil {
		c.Model.Path = *o.ModelPath
	}
	if o.ConfThreshold != nil {
		c.Decode.ConfThreshold = *o.ConfThreshold
	}
	if o.NMSThreshold != nil {
		c.Decode.NMSThreshold = *o.NMSThreshold
	}
	if o.PreNMSTopK != nil {
		c.Decode.PreNMSTopK = *o.PreNMSTopK
	}
	if o.PostNMSTopK != nil {
		c.Decode.PostNMSTopK = *o.PostNMSTopK
	}
	if o.VisThreshold != nil {
		c.VisThreshold = *o.VisThreshold
	}
	if o.ScoreMode != nil {
		c.Decode.ScoreMode = *o.ScoreMode
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
