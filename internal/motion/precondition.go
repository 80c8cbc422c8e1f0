package motion

// StandardGravity is g in m/s^2, used to convert sensor readings in g's to
// SI acceleration (spec §4.5.2).
const StandardGravity = 9.80665

// Precondition converts one (ax, ay, az) sample in units of g into m/s^2,
// removing the 1g gravity bias the z-axis carries at rest. x and y are not
// bias-corrected: only gravity along z is assumed.
func Precondition(axG, ayG, azG float64) (ax, ay, az float64) {
	return axG * StandardGravity, ayG * StandardGravity, (azG - 1) * StandardGravity
}
