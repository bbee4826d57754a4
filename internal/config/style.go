package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MapStyle holds every styling knob of the map layers. It is built once and
// handed to the engine by value.
type MapStyle struct {
	NodeRadius     float64 `xml:"NodeRadius" yaml:"nodeRadius"`
	NodeColor      string  `xml:"NodeColor" yaml:"nodeColor"`
	LabelColor     string  `xml:"LabelColor" yaml:"labelColor"`
	FontSize       float64 `xml:"FontSize" yaml:"fontSize"`
	LabelOffset    float64 `xml:"LabelOffset" yaml:"labelOffset"`
	PathColor      string  `xml:"PathColor" yaml:"pathColor"`
	PathWidth      float64 `xml:"PathWidth" yaml:"pathWidth"`
	PathOpacity    float64 `xml:"PathOpacity" yaml:"pathOpacity"`
	GlowWidth      float64 `xml:"GlowWidth" yaml:"glowWidth"`
	GlowOpacity    float64 `xml:"GlowOpacity" yaml:"glowOpacity"`
	CameraRadius   float64 `xml:"CameraRadius" yaml:"cameraRadius"`
	CameraOnline   string  `xml:"CameraOnlineColor" yaml:"cameraOnlineColor"`
	CameraOffline  string  `xml:"CameraOfflineColor" yaml:"cameraOfflineColor"`
	ChargeRadius   float64 `xml:"ChargeRadius" yaml:"chargeRadius"`
	ChargeColor    string  `xml:"ChargeColor" yaml:"chargeColor"`
	ChargeOpacity  float64 `xml:"ChargeOpacity" yaml:"chargeOpacity"`
	RobotRadius    float64 `xml:"RobotRadius" yaml:"robotRadius"`
	RobotColor     string  `xml:"RobotColor" yaml:"robotColor"`
	HitRadius      float64 `xml:"HitRadius" yaml:"hitRadius"`
	SmoothSegments int     `xml:"SmoothingSegments" yaml:"smoothingSegments"`
	SmoothTension  float64 `xml:"SmoothingTension" yaml:"smoothingTension"`

	Visibility Visibility `xml:"Visibility" yaml:"visibility"`

	// Camera network addresses are site data, never derived from the id.
	CameraAddresses []CameraAddress `xml:"CameraAddresses>Camera" yaml:"cameraAddresses"`
}

// Visibility holds the default on/off state of each layer.
type Visibility struct {
	Paths   bool `xml:"Paths" yaml:"paths"`
	Nodes   bool `xml:"Nodes" yaml:"nodes"`
	Cameras bool `xml:"Cameras" yaml:"cameras"`
	Charges bool `xml:"Charges" yaml:"charges"`
	Robots  bool `xml:"Robots" yaml:"robots"`
}

// CameraAddress maps a camera id to its stream address.
type CameraAddress struct {
	ID      int    `xml:"id,attr" yaml:"id"`
	Address string `xml:",chardata" yaml:"address"`
}

// DefaultMapStyle returns the stock dark theme.
func DefaultMapStyle() MapStyle {
	return MapStyle{
		NodeRadius:     3,
		NodeColor:      "#e2e8f0",
		LabelColor:     "#cbd5e1",
		FontSize:       10,
		LabelOffset:    8,
		PathColor:      "#38bdf8",
		PathWidth:      2,
		PathOpacity:    0.9,
		GlowWidth:      8,
		GlowOpacity:    0.15,
		CameraRadius:   6,
		CameraOnline:   "#22c55e",
		CameraOffline:  "#ef4444",
		ChargeRadius:   4,
		ChargeColor:    "#facc15",
		ChargeOpacity:  0.5,
		RobotRadius:    7,
		RobotColor:     "#f97316",
		HitRadius:      6,
		SmoothSegments: 8,
		SmoothTension:  1,
		Visibility: Visibility{
			Paths:   true,
			Nodes:   true,
			Cameras: true,
			Charges: true,
			Robots:  true,
		},
	}
}

// CameraAddress returns the configured address of a camera.
func (s MapStyle) CameraAddress(id int) (string, bool) {
	for _, c := range s.CameraAddresses {
		if c.ID == id {
			return c.Address, true
		}
	}
	return "", false
}

// styleOverride mirrors MapStyle with pointers so an override file can
// switch a layer off or zero a value explicitly.
type styleOverride struct {
	NodeRadius      *float64        `yaml:"nodeRadius"`
	NodeColor       *string         `yaml:"nodeColor"`
	LabelColor      *string         `yaml:"labelColor"`
	FontSize        *float64        `yaml:"fontSize"`
	LabelOffset     *float64        `yaml:"labelOffset"`
	PathColor       *string         `yaml:"pathColor"`
	PathWidth       *float64        `yaml:"pathWidth"`
	PathOpacity     *float64        `yaml:"pathOpacity"`
	GlowWidth       *float64        `yaml:"glowWidth"`
	GlowOpacity     *float64        `yaml:"glowOpacity"`
	CameraRadius    *float64        `yaml:"cameraRadius"`
	CameraOnline    *string         `yaml:"cameraOnlineColor"`
	CameraOffline   *string         `yaml:"cameraOfflineColor"`
	ChargeRadius    *float64        `yaml:"chargeRadius"`
	ChargeColor     *string         `yaml:"chargeColor"`
	ChargeOpacity   *float64        `yaml:"chargeOpacity"`
	RobotRadius     *float64        `yaml:"robotRadius"`
	RobotColor      *string         `yaml:"robotColor"`
	HitRadius       *float64        `yaml:"hitRadius"`
	SmoothSegments  *int            `yaml:"smoothingSegments"`
	SmoothTension   *float64        `yaml:"smoothingTension"`
	Visibility      *visibilityOver `yaml:"visibility"`
	CameraAddresses []CameraAddress `yaml:"cameraAddresses"`
}

type visibilityOver struct {
	Paths   *bool `yaml:"paths"`
	Nodes   *bool `yaml:"nodes"`
	Cameras *bool `yaml:"cameras"`
	Charges *bool `yaml:"charges"`
	Robots  *bool `yaml:"robots"`
}

// LoadStyle reads a YAML style file and merges the values it sets over base.
func LoadStyle(path string, base MapStyle) (MapStyle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read style file: %w", err)
	}
	return ParseStyle(data, base)
}

// ParseStyle is LoadStyle for an in-memory document.
func ParseStyle(data []byte, base MapStyle) (MapStyle, error) {
	var o styleOverride
	if err := yaml.Unmarshal(data, &o); err != nil {
		return base, fmt.Errorf("failed to parse style file: %w", err)
	}

	s := base
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setS := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setB := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}

	setF(&s.NodeRadius, o.NodeRadius)
	setS(&s.NodeColor, o.NodeColor)
	setS(&s.LabelColor, o.LabelColor)
	setF(&s.FontSize, o.FontSize)
	setF(&s.LabelOffset, o.LabelOffset)
	setS(&s.PathColor, o.PathColor)
	setF(&s.PathWidth, o.PathWidth)
	setF(&s.PathOpacity, o.PathOpacity)
	setF(&s.GlowWidth, o.GlowWidth)
	setF(&s.GlowOpacity, o.GlowOpacity)
	setF(&s.CameraRadius, o.CameraRadius)
	setS(&s.CameraOnline, o.CameraOnline)
	setS(&s.CameraOffline, o.CameraOffline)
	setF(&s.ChargeRadius, o.ChargeRadius)
	setS(&s.ChargeColor, o.ChargeColor)
	setF(&s.ChargeOpacity, o.ChargeOpacity)
	setF(&s.RobotRadius, o.RobotRadius)
	setS(&s.RobotColor, o.RobotColor)
	setF(&s.HitRadius, o.HitRadius)
	setF(&s.SmoothTension, o.SmoothTension)
	if o.SmoothSegments != nil {
		s.SmoothSegments = *o.SmoothSegments
	}
	if v := o.Visibility; v != nil {
		setB(&s.Visibility.Paths, v.Paths)
		setB(&s.Visibility.Nodes, v.Nodes)
		setB(&s.Visibility.Cameras, v.Cameras)
		setB(&s.Visibility.Charges, v.Charges)
		setB(&s.Visibility.Robots, v.Robots)
	}
	if o.CameraAddresses != nil {
		s.CameraAddresses = append([]CameraAddress(nil), o.CameraAddresses...)
	}
	return s, nil
}

// MergeFile applies a YAML style file over the receiver.
func (s *MapStyle) MergeFile(path string) error {
	merged, err := LoadStyle(path, *s)
	if err != nil {
		return err
	}
	*s = merged
	return nil
}
