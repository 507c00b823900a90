package models

const (
	VehicleCar         = "Car"
	VehicleTaxi        = "Taxi"
	VehicleBus         = "Bus"
	VehicleMicrobus    = "Microbus"
	VehicleTruck       = "Truck"
	VehicleMotorcycle  = "Motorcycle"
	VehicleDeliveryVan = "Delivery Van"

	WeatherClear     = "Clear"
	WeatherCloudy    = "Cloudy"
	WeatherLightRain = "Light Rain"
	WeatherHeavyRain = "Heavy Rain"
	WeatherFoggy     = "Foggy"
	WeatherSandstorm = "Sandstorm"
	WeatherRain      = "Rain"
	WeatherFog       = "Fog"

	IncidentNone             = "None"
	IncidentMinorAccident    = "Minor Accident"
	IncidentMajorAccident    = "Major Accident"
	IncidentVehicleBreakdown = "Vehicle Breakdown"
	IncidentRoadConstruction = "Road Construction"
	IncidentPoliceCheckpoint = "Police Checkpoint"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"

	TopicTrafficEvents = "traffic_events"
	TopicTrafficAlerts = "traffic_alerts"
)

var (
	VehicleTypes = []string{
		VehicleCar, VehicleTaxi, VehicleBus, VehicleMicrobus,
		VehicleTruck, VehicleMotorcycle, VehicleDeliveryVan,
	}

	// WeatherConditions is the extended weather set used by default.
	WeatherConditions = []string{
		WeatherClear, WeatherCloudy, WeatherLightRain,
		WeatherHeavyRain, WeatherFoggy, WeatherSandstorm,
	}

	// ReducedWeatherConditions is the four-value set of the lighter dashboard.
	ReducedWeatherConditions = []string{WeatherClear, WeatherCloudy, WeatherRain, WeatherFog}

	TrafficIncidents = []string{
		IncidentNone, IncidentMinorAccident, IncidentMajorAccident,
		IncidentVehicleBreakdown, IncidentRoadConstruction, IncidentPoliceCheckpoint,
	}

	// ActiveIncidents is every incident category except IncidentNone.
	ActiveIncidents = TrafficIncidents[1:]
)
